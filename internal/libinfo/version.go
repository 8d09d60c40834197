/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package libinfo

import (
	"runtime/debug"
	"sync"
)

const LibName = "undertaking"

const libPath = "github.com/twz123/" + LibName + "-sub000"

var libVersion string
var libVersionOnce sync.Once

func initLibVersion() {
	if buildInfo, ok := debug.ReadBuildInfo(); ok && buildInfo != nil {
		for _, dep := range buildInfo.Deps {
			if dep.Path == libPath {
				libVersion = dep.Version
				return
			}
		}
	}
	libVersion = "v0.0.0"
}

func GetLibVersion() string {
	libVersionOnce.Do(initLibVersion)
	return libVersion
}
