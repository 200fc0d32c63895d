package config

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"pwmlight-go/bus"
	"pwmlight-go/types"
	"pwmlight-go/x/mathx"
)

const (
	serviceName  = "config"
	configPrefix = "config"

	// Capability names the light, reset and HAL sections agree on.
	LightCap  = "light"
	ButtonCap = "boot"

	pca9685MaxDuty = 4095
)

//go:embed boards/*.yaml
var boards embed.FS

// EmbeddedConfigLookup allows overriding how board profiles are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, err := boards.ReadFile("boards/" + board + ".yaml")
	return b, err == nil
}

// Profile is one board's configuration. Sections map onto retained
// config/<section> messages; node, log and nvs are consumed at boot.
type Profile struct {
	Board    string          `yaml:"board"`
	Platform string          `yaml:"platform"` // host, linux, rp2
	GPIOChip string          `yaml:"gpio_chip"`
	PWMChip  int             `yaml:"pwm_chip"`
	Plan     types.BoardPlan `yaml:"plan"`

	Node NodeSection `yaml:"node"`
	Log  LogSection  `yaml:"log"`
	NVS  NVSSection  `yaml:"nvs"`

	PWM      types.PWMOutParams      `yaml:"pwm"`
	Expander *types.PCA9685OutParams `yaml:"expander"` // replaces pwm when set
	Button   *types.ButtonParams     `yaml:"button"`

	Light     types.LightConfig     `yaml:"light"`
	Reset     types.ResetConfig     `yaml:"reset"`
	Bridge    *types.BridgeConfig   `yaml:"bridge"`
	Heartbeat types.HeartbeatConfig `yaml:"heartbeat"`
}

type NodeSection struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Model string `yaml:"model"`
}

type LogSection struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

type NVSSection struct {
	Path  string `yaml:"path"`  // SQLite file on hosts; empty keeps it in memory
	Pages int    `yaml:"pages"` // page budget of the in-memory partition
}

// Default is the profile every board file is layered onto.
func Default() *Profile {
	return &Profile{
		Platform: "host",
		Node:     NodeSection{Name: "PWM Light", Type: "Lightbulb"},
		Log:      LogSection{Level: "info", Format: "console"},
		NVS:      NVSSection{Pages: 3},
		PWM: types.PWMOutParams{
			Pin:            10,
			ResolutionBits: 10,
			FreqHz:         5000,
		},
		Light: types.LightConfig{
			Device:            "PWM Light",
			Profile:           types.ProfileLight,
			LongPressMs:       3000,
			DefaultPower:      true,
			DefaultBrightness: 25,
			DefaultHue:        180,
			DefaultSaturation: 100,
		},
		Reset:     types.ResetConfig{FactoryResetMs: 10000},
		Heartbeat: types.HeartbeatConfig{IntervalS: 10},
	}
}

// Parse layers raw YAML over Default and validates the result.
func Parse(raw []byte) (*Profile, error) {
	p := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(raw))), p); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads path when set, otherwise the embedded profile for board.
func Load(board, path string) (*Profile, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return Parse(raw)
	}
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return nil, errors.New("config: no embedded profile for board: " + board)
	}
	return Parse(raw)
}

func (p *Profile) validate() error {
	switch {
	case p.Node.Name == "" || p.Node.Type == "":
		return errors.New("config: node name and type are required")
	case p.Expander == nil && (p.PWM.ResolutionBits == 0 || p.PWM.ResolutionBits > 20):
		return fmt.Errorf("config: pwm resolution_bits %d out of range", p.PWM.ResolutionBits)
	case p.Expander == nil && p.PWM.FreqHz == 0:
		return errors.New("config: pwm freq_hz is required")
	case p.Light.DefaultBrightness < 0 || p.Light.DefaultBrightness > 100:
		return fmt.Errorf("config: default_brightness %d out of range", p.Light.DefaultBrightness)
	case p.Light.Profile != types.ProfileLight && p.Light.Profile != types.ProfileVoltage:
		return fmt.Errorf("config: unknown light profile %q", p.Light.Profile)
	}
	return nil
}

// HALConfig lists the devices the board wires up: the light output and, when
// present, the button.
func (p *Profile) HALConfig() types.HALConfig {
	var cfg types.HALConfig
	if p.Expander != nil {
		ex := *p.Expander
		ex.Name = LightCap
		cfg.Devices = append(cfg.Devices, types.HALDevice{ID: LightCap, Type: "pca9685_out", Params: ex})
	} else {
		pwm := p.PWM
		pwm.Name = LightCap
		cfg.Devices = append(cfg.Devices, types.HALDevice{ID: LightCap, Type: "pwm_out", Params: pwm})
	}
	if p.Button != nil {
		btn := *p.Button
		btn.Name = ButtonCap
		cfg.Devices = append(cfg.Devices, types.HALDevice{ID: ButtonCap, Type: "gpio_button", Params: btn})
	}
	return cfg
}

// LightConfig binds the light to the HAL capabilities above.
func (p *Profile) LightConfig() types.LightConfig {
	lc := p.Light
	lc.PWM = LightCap
	lc.Button = ""
	if p.Button != nil {
		lc.Button = ButtonCap
	}
	if p.Expander != nil {
		lc.MaxDuty = pca9685MaxDuty
	} else {
		lc.MaxDuty = mathx.MaxForBits(p.PWM.ResolutionBits)
	}
	return lc
}

func (p *Profile) ResetConfig() types.ResetConfig {
	rc := p.Reset
	rc.Button = ""
	if p.Button != nil {
		rc.Button = ButtonCap
	}
	return rc
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name    string
	profile *Profile
	log     zerolog.Logger
}

func NewConfigService(p *Profile) *ConfigService {
	return &ConfigService{
		Name:    serviceName,
		profile: p,
		log:     log.With().Str("svc", serviceName).Logger(),
	}
}

// publishConfig publishes every section as a retained message.
func (s *ConfigService) publishConfig(conn *bus.Connection) {
	p := s.profile
	sections := []struct {
		key string
		val any
	}{
		{"hal", p.HALConfig()},
		{"light", p.LightConfig()},
		{"reset", p.ResetConfig()},
		{"heartbeat", p.Heartbeat},
	}
	if p.Bridge != nil {
		sections = append(sections, struct {
			key string
			val any
		}{"bridge", *p.Bridge})
	}
	for _, sec := range sections {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, sec.key), sec.val, true))
	}
	s.log.Info().Str("board", p.Board).Int("sections", len(sections)).Msg("config published")
}

// Start publishes the profile. Retained messages outlive ctx.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.publishConfig(conn)
	return nil
}

var envRef = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands ${VAR} and ${VAR:default}.
func expandEnvVars(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(match string) string {
		parts := envRef.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}
