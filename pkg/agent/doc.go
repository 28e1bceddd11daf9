// Agent is the OTA task. It brings the device up in a fixed order - image
// storage, running image validation, network, secure sockets and finally the
// update engine - and hands the engine's lifecycle events to the dispatcher.
//
// The Agent makes no decisions about updates itself: the engine drives the
// session and the dispatcher only observes it, stopping a session whose job
// connection is malformed.
package agent
