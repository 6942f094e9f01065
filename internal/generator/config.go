package generator

// Config drives the synthetic data generator.
type Config struct {
	NumUsers int
	NumIOUs  int
	// PlaceholderChance is the share of users created without a PIN.
	PlaceholderChance float64
	// UnregisteredChance is the share of IOUs addressed to a phone nobody owns.
	UnregisteredChance float64
	// NameOnlyChance is the share of IOUs naming a recipient with no phone.
	NameOnlyChance float64
	RepaidChance   float64
	PhotoChance    float64
	Seed           int64
}

// DefaultConfig returns settings for a small but varied demo dataset.
func DefaultConfig() Config {
	return Config{
		NumUsers:           50,
		NumIOUs:            400,
		PlaceholderChance:  0.1,
		UnregisteredChance: 0.2,
		NameOnlyChance:     0.1,
		RepaidChance:       0.3,
		PhotoChance:        0.05,
		Seed:               42,
	}
}
