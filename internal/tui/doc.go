// Package tui provides the read-mostly dashboard behind `shepherd ui`.
//
// The dashboard polls a Source for a Snapshot of the project state (live
// tasks, tracked processes, their recent activity and active control
// signals) and renders it in three panels. Besides navigation, the only
// actions it offers are the control signals: pause, resume and stop, either
// for the selected process or for every loop.
//
// Usage:
//
//	src := tui.StoreSource{Store: store, Supervisor: sup}
//	err := tui.Run(ctx, src, sup, time.Second)
package tui
