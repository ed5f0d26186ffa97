// Package state defines the session state shared by every connection:
// the active scene and its parameters, custom content, and the virtual
// canvas (layout offsets, overlay elements, declarative fill).
//
// A State value is plain data. The hub owns the single live instance and
// is the only writer; everything else receives clones.
//
// Updates arrive as a Patch, an explicit set of optional fields. Applying
// a patch overwrites each present field wholesale, so concurrent controls
// resolve by last write per field:
//
//	p := &state.Patch{Scene: ptr("solid"), Color: ptr("#ff0000")}
//	if err := p.Validate(); err != nil {
//	    return err
//	}
//	s.Apply(p)
package state
