package generator

// Config drives the synthetic clinical data generator.
type Config struct {
	NumEncounters int
	// NumPatients and NumProviders size the pools encounters draw from, so
	// the same MRN or provider id appears in many records.
	NumPatients  int
	NumProviders int
	// MaxDiagnoses, MaxTests and MaxTreatments cap the nested lists per encounter.
	MaxDiagnoses  int
	MaxTests      int
	MaxTreatments int
	// NumHistories is the number of patient-history records; each reuses a
	// patient from the shared pool.
	NumHistories          int
	MaxHistoryEncounters  int
	MissingProviderChance float64
	Seed                  int64
}

// DefaultConfig returns baseline settings for a small demo dataset.
func DefaultConfig() Config {
	return Config{
		NumEncounters:        1000,
		NumPatients:          200,
		NumProviders:         25,
		MaxDiagnoses:         3,
		MaxTests:             4,
		MaxTreatments:        2,
		NumHistories:         100,
		MaxHistoryEncounters: 5,
		Seed:                 42,
	}
}
