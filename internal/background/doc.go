// Package background is the agent's background pipeline.
//
// PushHandler turns one inbound push message into a displayed notification,
// a persisted history record and a broadcast to foreground contexts. The
// three steps run concurrently and fail independently; the handler returns
// only after all of them settled.
//
// ClickRouter handles a click on a displayed notification: it closes the
// notification, resolves its link target and either focuses a foreground
// context already on the tracker or opens a new one.
//
// Neither component returns errors to the hosting runtime. Failures are
// logged and published on the event bus.
package background
