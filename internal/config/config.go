// Package config defines the pipeline's configuration surface and its
// cobra/viper-backed flag binding, in the manner of the teacher's
// viper-driven loadConfig (config.go): flags are the source of truth,
// bound into viper so a GREX_-prefixed environment variable can
// supply any flag not given on the command line, then validated and
// assembled into a typed Config. No config file is read.
package config

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ExfilKind selects which downstream sink receives downsampled Stokes
// frames.
type ExfilKind string

const (
	ExfilNone       ExfilKind = "none"
	ExfilFilterbank ExfilKind = "filterbank"
	ExfilDada       ExfilKind = "dada"
)

// Config is the fully parsed, validated configuration surface
// enumerated in spec.md §6.
type Config struct {
	DumpPath        string
	FilterbankPath  string
	CoreRangeStart  int
	CoreRangeStop   int
	MAC             net.HardwareAddr
	CapPort         uint16
	TrigPort        uint16
	MetricsPort     uint16
	DownsamplePower uint32
	VbufCapacity    uint32 // power-of-two exponent
	FPGAAddr        string
	NTPAddr         string
	RequantGain     uint16
	Trig            bool
	SkipNTP         bool
	InjectionCadenceSecs uint64
	PulsePath       string

	Exfil       ExfilKind
	DadaKey     int32
	DadaSamples uint32
}

// BindFlags registers every flag from spec.md §6 as a persistent flag
// on cmd (so its subcommands accept them too) and binds each to viper
// under the same name, so a GREX_-prefixed environment variable can
// also supply it. Unlike the teacher's config.go, no config file is
// read (viper.ReadInConfig is never called).
func BindFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("dump-path", ".", "path to save voltage dumps")
	flags.String("filterbank-path", ".", "path to save filterbanks")
	flags.String("core-range", "0:7", "inclusive CPU core range, e.g. 0:7 (minimum 8 cores)")
	flags.String("mac", "", "MAC address of the capture interface, as 6 colon-separated hex octets")
	flags.Uint16("cap-port", 60000, "UDP port for the ingress payload stream")
	flags.Uint16("trig-port", 65432, "UDP port for trigger messages")
	flags.Uint16("metrics-port", 8083, "HTTP port for Prometheus metrics")
	flags.Uint32P("downsample-power", "d", 2, "downsample power of two, 1-9")
	flags.Uint32P("vbuf-capacity", "v", 22, "voltage ring buffer capacity, as a power-of-two exponent")
	flags.String("fpga-addr", "192.168.0.3:69", "socket address of the SNAP board")
	flags.String("ntp-addr", "time.google.com", "NTP server to synchronize against")
	flags.Uint16("requant-gain", 0, "requantization gain applied by the gateware")
	flags.Bool("trig", false, "force a PPS trigger instead of waiting for hardware PPS")
	flags.Bool("skip-ntp", false, "synchronize FPGA timing without NTP")
	flags.Uint64P("injection-cadence", "i", 3600, "pulse injection cadence, in seconds")
	flags.StringP("pulse-path", "p", "./fake", "path to .dat files for pulse injection")

	viper.SetEnvPrefix("grex")
	viper.AutomaticEnv()
	return viper.BindPFlags(flags)
}

// BindExfilFlags registers the dada subcommand's flags, grounded in
// the original's Psrdada{key, samples} subcommand variant.
func BindExfilFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int32P("key", "k", 0, "PSRDADA hex ring buffer key")
	flags.Uint32P("samples", "s", 65536, "PSRDADA window size, in time samples")
}

// Load assembles a Config from viper's bound values (flags and
// environment) and validates it against spec.md's invariants.
func Load(exfil ExfilKind, dadaKey int32, dadaSamples uint32) (Config, error) {
	c := Config{
		DumpPath:             viper.GetString("dump-path"),
		FilterbankPath:       viper.GetString("filterbank-path"),
		CapPort:              uint16(viper.GetUint32("cap-port")),
		TrigPort:             uint16(viper.GetUint32("trig-port")),
		MetricsPort:          uint16(viper.GetUint32("metrics-port")),
		DownsamplePower:      viper.GetUint32("downsample-power"),
		VbufCapacity:         viper.GetUint32("vbuf-capacity"),
		FPGAAddr:             viper.GetString("fpga-addr"),
		NTPAddr:              viper.GetString("ntp-addr"),
		RequantGain:          uint16(viper.GetUint32("requant-gain")),
		Trig:                 viper.GetBool("trig"),
		SkipNTP:              viper.GetBool("skip-ntp"),
		InjectionCadenceSecs: viper.GetUint64("injection-cadence"),
		PulsePath:            viper.GetString("pulse-path"),
		Exfil:                exfil,
		DadaKey:              dadaKey,
		DadaSamples:          dadaSamples,
	}

	start, stop, err := parseCoreRange(viper.GetString("core-range"))
	if err != nil {
		return Config{}, err
	}
	c.CoreRangeStart, c.CoreRangeStop = start, stop

	mac, err := net.ParseMAC(viper.GetString("mac"))
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid mac address: %w", err)
	}
	if len(mac) != 6 {
		return Config{}, fmt.Errorf("config: mac address must have 6 octets, got %d", len(mac))
	}
	c.MAC = mac

	if c.DownsamplePower < 1 || c.DownsamplePower > 9 {
		return Config{}, fmt.Errorf("config: downsample-power must be in 1..9, got %d", c.DownsamplePower)
	}

	return c, nil
}

func parseCoreRange(s string) (start, stop int, err error) {
	n, err := fmt.Sscanf(s, "%d:%d", &start, &stop)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("config: core-range must look like START:STOP, got %q", s)
	}
	if stop < start {
		return 0, 0, fmt.Errorf("config: core-range %q has stop before start", s)
	}
	if stop-start+1 < 8 {
		return 0, 0, fmt.Errorf("config: core-range %q covers fewer than 8 cores", s)
	}
	return start, stop, nil
}
