package models

import (
	"fmt"
	"strconv"
	"time"
)

// DeviceAttributes are the ambient client attributes a fingerprint is derived from.
type DeviceAttributes struct {
	UserAgent      string
	Language       string
	Platform       string
	ScreenWidth    int
	ScreenHeight   int
	ColorDepth     int
	TimezoneOffset int // minutes east of UTC
	CPUCount       int
	DeviceMemoryGB float64
	MaxTouchPoints int
}

// Components returns the fixed, ordered tuple fed to the hash.
func (a DeviceAttributes) Components() []string {
	return []string{
		a.UserAgent,
		a.Language,
		a.Platform,
		fmt.Sprintf("%dx%d", a.ScreenWidth, a.ScreenHeight),
		strconv.Itoa(a.ColorDepth),
		strconv.Itoa(a.TimezoneOffset),
		strconv.Itoa(a.CPUCount),
		strconv.FormatFloat(a.DeviceMemoryGB, 'f', -1, 64),
		strconv.Itoa(a.MaxTouchPoints),
	}
}

// DeviceFingerprint is a derived identifier of the client device.
type DeviceFingerprint struct {
	ID         string    `json:"id"`
	Components []string  `json:"components"`
	Timestamp  time.Time `json:"timestamp"`
}
