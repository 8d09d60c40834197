/*
Copyright © 2025 The Undertaking Authors.

Released under MIT license.
*/

package libinfo

func UserAgent() string {
	return LibName + "/" + GetLibVersion()
}

func LogPrefix() string {
	return "[" + LibName + "/" + GetLibVersion() + "] "
}
