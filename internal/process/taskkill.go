package process

import "strconv"

// taskkillArgs builds the taskkill arguments that force pid to end together
// with every process it started.
func taskkillArgs(pid int) []string {
	return []string{"/F", "/T", "/PID", strconv.Itoa(pid)}
}
