package main

import "time"

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	ConfigPath string
	LogLevel   string
}

type PathsFlags struct {
	ConfigPath string
}

type BootstrapFlags struct {
	ConfigPath string
	LogLevel   string
}

type ProbeFlags struct {
	ConfigPath string
	URL        string
	Port       int
	Timeout    time.Duration
}

type StatusFlags struct {
	ConfigPath string
	Addr       string
	Output     string // stream to print
	Lines      int
	History    int // number of events to print
	Timeout    time.Duration
}
