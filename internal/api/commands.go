package api

import "strings"

// Allow list of commands the tester head accepts over the API. Anything else
// is rejected before it reaches the serial port.
var allowedCommands = []string{
	"??", // query head information
	"?V", // read firmware version
	"?N", // read serial number
	"?C", // read head clock

	"Z", // zero the load cell

	// Force units
	"U?", // query current force units
	"UL", // set units to pounds
	"UN", // set units to newtons
	"UK", // set units to kilograms-force

	// Output modes
	"OS", // stream per-position samples during each pass
	"OR", // emit run begin/end markers
	"OQ", // quiet mode, markers only

	"S!", // start a test run
	"X!", // abort the run in progress
}

// commandAllowed reports whether a command may be forwarded to the head.
// Clock-set commands carry a parameter, so they are matched by prefix.
func commandAllowed(command string) bool {
	command = strings.TrimSpace(command)
	if strings.HasPrefix(command, "C=") {
		return len(command) > len("C=")
	}
	for _, allowed := range allowedCommands {
		if command == allowed {
			return true
		}
	}
	return false
}
