package main

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var _version string

var version string

func init() {
	version = strings.TrimSpace(_version)
	if version == "" {
		version = "DEV"
	}
}
