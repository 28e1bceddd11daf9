package logging

// DebugEnable is set at link time (-X .../pkg/logging.DebugEnable=1) to build
// a debuggable agent.
var DebugEnable string

// Debuggable builds log every external command and raw engine event. Release
// builds leave it false so the conditionals compile away.
var Debuggable = DebugEnable != ""
