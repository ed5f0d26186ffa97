// Package protocol defines the JSON messages exchanged between the hub and
// its clients over WebSocket text frames.
//
// Every frame is a single JSON object with a mandatory "type" field.
// Clients register first (register_control or register_display) and then
// send mutations; the hub answers with full-state messages that receivers
// merge wholesale into their local mirror.
//
// # Client → Server
//
//   - register_control, register_display{displayId}
//   - update_state{state}, set_canvas_mode{canvasMode}
//   - update_canvas_layout{canvasLayout}
//   - canvas_elements{elements, canvasLayout?}
//   - canvas_upload{image|url, canvasLayout?, requestId?}
//   - canvas_content{content, canvasLayout?}
//   - upload_image{image, requestId?}, upload_scene_image{image, requestId?}
//   - save_to_library{html, name}, delete_from_library{id},
//     load_from_library{id}, broadcast_html{html, name}
//
// # Server → Client
//
//   - init, state_update, displays_update, library_update
//   - image_uploaded, scene_image_uploaded, sync_status, error
//
// Upload results echo the requestId of the message that caused them so a
// control with several uploads in flight can tell them apart.
package protocol
