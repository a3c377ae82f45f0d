// Package environment reads the device attributes used for fingerprinting.
package environment

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/pkg/constants"
)

// Detector derives attributes from the runtime and fills the ones a process
// cannot observe (screen, touch points) from configuration.
type Detector struct {
	cfg    config.FingerprintConfig
	now    func() time.Time
	getenv func(string) string
}

// NewDetector creates a Detector. A nil now uses time.Now.
func NewDetector(cfg config.FingerprintConfig, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{cfg: cfg, now: now, getenv: os.Getenv}
}

// Attributes returns the current device attributes.
func (p *Detector) Attributes(ctx context.Context) (models.DeviceAttributes, error) {
	if err := ctx.Err(); err != nil {
		return models.DeviceAttributes{}, err
	}

	_, offset := p.now().Zone()
	attrs := models.DeviceAttributes{
		UserAgent:      p.cfg.UserAgent,
		Language:       p.cfg.Language,
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
		ScreenWidth:    p.cfg.ScreenWidth,
		ScreenHeight:   p.cfg.ScreenHeight,
		ColorDepth:     p.cfg.ColorDepth,
		TimezoneOffset: offset / 60,
		CPUCount:       runtime.NumCPU(),
		DeviceMemoryGB: p.cfg.DeviceMemoryGB,
		MaxTouchPoints: p.cfg.MaxTouchPoints,
	}
	if attrs.UserAgent == "" {
		attrs.UserAgent = constants.ServiceName + " (" + runtime.Version() + ")"
	}
	if attrs.Language == "" {
		attrs.Language = p.language()
	}
	return attrs, nil
}

// language follows the POSIX locale precedence, e.g. "de_DE.UTF-8" -> "de-DE".
func (p *Detector) language() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := p.getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return "en-US"
}
