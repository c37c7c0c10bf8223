package analysis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the weight and threshold table the engine runs with. It is
// copied into the Engine at construction and never modified afterwards.
type Config struct {
	IntervalDays int `yaml:"interval_days"`
	// Window is the number of most recent observations used by the yield
	// features and the growth-stage mean.
	Window int `yaml:"window"`

	Hotspot     HotspotConfig     `yaml:"hotspot"`
	WaterStress WaterStressConfig `yaml:"water_stress"`
	Yield       YieldConfig       `yaml:"yield"`
	Stage       StageConfig       `yaml:"stage"`

	VolatilityAlert float64 `yaml:"volatility_alert"`
}

// HotspotConfig holds the two-tier score rule and the detection cut-off.
type HotspotConfig struct {
	SevereNDVI  float64 `yaml:"severe_ndvi"`
	SevereNDWI  float64 `yaml:"severe_ndwi"`
	SevereScore float64 `yaml:"severe_score"`
	MildNDVI    float64 `yaml:"mild_ndvi"`
	MildNDWI    float64 `yaml:"mild_ndwi"`
	MildScore   float64 `yaml:"mild_score"`
	Threshold   float64 `yaml:"threshold"`
	HealthNDVI  float64 `yaml:"health_ndvi"`
	AreaScaleM2 float64 `yaml:"area_scale_m2"`
}

type WaterStressConfig struct {
	ExpectedRatio     float64 `yaml:"expected_ratio"`
	ExpectedFloor     float64 `yaml:"expected_floor"`
	HighStress        float64 `yaml:"high_stress"`
	MediumStress      float64 `yaml:"medium_stress"`
	MulchStress       float64 `yaml:"mulch_stress"`
	SensorCorrelation float64 `yaml:"sensor_correlation"`
}

// YieldConfig is the linear model. Weights apply to the window means.
type YieldConfig struct {
	Model            string  `yaml:"model"`
	Unit             string  `yaml:"unit"`
	BaseYield        float64 `yaml:"base_yield"`
	NDVIWeight       float64 `yaml:"ndvi_weight"`
	NDWIWeight       float64 `yaml:"ndwi_weight"`
	GrowthWeight     float64 `yaml:"growth_weight"`
	BaseConfidence   float64 `yaml:"base_confidence"`
	ConfidenceBoost  float64 `yaml:"confidence_boost"`
	BoostNDVI        float64 `yaml:"boost_ndvi"`
	LengthNormalizer float64 `yaml:"length_normalizer"`

	LowNDVI        float64 `yaml:"low_ndvi"`
	LowNDWI        float64 `yaml:"low_ndwi"`
	HighVolatility float64 `yaml:"high_volatility"`
}

// StageConfig holds the upper bounds of each growth stage on the window mean.
type StageConfig struct {
	Emergence    float64 `yaml:"emergence"`
	Vegetative   float64 `yaml:"vegetative"`
	Reproductive float64 `yaml:"reproductive"`
}

func DefaultConfig() Config {
	return Config{
		IntervalDays: 5,
		Window:       5,
		Hotspot: HotspotConfig{
			SevereNDVI:  0.3,
			SevereNDWI:  0.2,
			SevereScore: 0.9,
			MildNDVI:    0.4,
			MildNDWI:    0.3,
			MildScore:   0.7,
			Threshold:   0.6,
			HealthNDVI:  0.3,
			AreaScaleM2: 1000,
		},
		WaterStress: WaterStressConfig{
			ExpectedRatio:     0.8,
			ExpectedFloor:     0.01,
			HighStress:        0.3,
			MediumStress:      0.1,
			MulchStress:       0.2,
			SensorCorrelation: 0.5,
		},
		Yield: YieldConfig{
			Model:            "linear-v1",
			Unit:             "kg/ha",
			BaseYield:        5000,
			NDVIWeight:       3000,
			NDWIWeight:       1000,
			GrowthWeight:     500,
			BaseConfidence:   0.75,
			ConfidenceBoost:  0.10,
			BoostNDVI:        0.5,
			LengthNormalizer: 30,
			LowNDVI:          0.4,
			LowNDWI:          0.2,
			HighVolatility:   0.15,
		},
		Stage: StageConfig{
			Emergence:    0.3,
			Vegetative:   0.6,
			Reproductive: 0.75,
		},
		VolatilityAlert: 0.15,
	}
}

// LoadConfig overlays the YAML file at path onto DefaultConfig. An empty
// path or a missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Window < 1 {
		return fmt.Errorf("window must be positive, got %d", c.Window)
	}
	if c.IntervalDays < 1 {
		return fmt.Errorf("interval_days must be positive, got %d", c.IntervalDays)
	}
	h := c.Hotspot
	if h.SevereNDVI > h.MildNDVI || h.SevereNDWI > h.MildNDWI {
		return fmt.Errorf("hotspot severe thresholds must not exceed mild thresholds")
	}
	if h.SevereScore < h.MildScore {
		return fmt.Errorf("hotspot severe_score %.2f below mild_score %.2f", h.SevereScore, h.MildScore)
	}
	if c.WaterStress.ExpectedFloor <= 0 {
		return fmt.Errorf("water_stress expected_floor must be positive")
	}
	if c.WaterStress.MediumStress > c.WaterStress.HighStress {
		return fmt.Errorf("water_stress medium_stress exceeds high_stress")
	}
	s := c.Stage
	if !(s.Emergence <= s.Vegetative && s.Vegetative <= s.Reproductive) {
		return fmt.Errorf("stage bounds must be ascending")
	}
	if c.Yield.LengthNormalizer <= 0 {
		return fmt.Errorf("yield length_normalizer must be positive")
	}
	return nil
}
