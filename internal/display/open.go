//go:build !headless

package display

// Open returns a desktop window, or a Headless host when cfg.Headless is
// set.
func Open(cfg Config) (Host, error) {
	cfg.defaults()
	if cfg.Headless {
		return NewHeadless(cfg), nil
	}
	return NewWindow(cfg), nil
}
