// Package ui renders dtvplus-cfg output with Lip Gloss and runs the
// interactive watch view with Bubble Tea.
//
// Most commands print once and exit through a Printer: a header box, then a
// success or error box with troubleshooting tips. The watch command runs a
// WatchModel, which polls a controller on an interval and redraws the status
// panel built by BuildStatus and RenderStatus.
//
// Widths are clamped to 60..100 columns so boxes stay readable in narrow and
// very wide terminals.
package ui
