//go:build headless

package display

// Open returns a Headless host. Desktop windows are not built with the
// headless tag.
func Open(cfg Config) (Host, error) {
	cfg.defaults()
	if !cfg.Headless {
		cfg.Log.Warn("built without window support, running headless")
	}
	return NewHeadless(cfg), nil
}
