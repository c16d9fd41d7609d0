package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Ledger modes.
const (
	LedgerMemory = "memory"
	LedgerERC20  = "erc20"
)

// DefaultCustody es la cuenta de custodia del ledger en memoria si no se configura otra.
const DefaultCustody = "0x000000000000000000000000000000000000c057"

// Config es la configuración completa del motor.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig controla la identidad privilegiada y los límites del libro.
type EngineConfig struct {
	Operator string `yaml:"operator"`  // dirección 0x… del operador
	MinStake string `yaml:"min_stake"` // unidades base, entero decimal
}

// LedgerConfig elige dónde viven los fondos en custodia.
type LedgerConfig struct {
	Mode                     string  `yaml:"mode"` // memory | erc20
	RPCURL                   string  `yaml:"rpc_url"`
	Token                    string  `yaml:"token"`
	ChainID                  int64   `yaml:"chain_id"` // 0: se consulta al nodo
	PrivateKey               string  `yaml:"private_key"`
	RPS                      float64 `yaml:"rps"`
	Decimals                 int32   `yaml:"decimals"` // solo para mostrar montos
	ReceiptTimeoutSeconds    int     `yaml:"receipt_timeout_seconds"`
	ReconcileIntervalSeconds int     `yaml:"reconcile_interval_seconds"` // transferencias sin receipt

	// Solo en modo memory.
	Custody string            `yaml:"custody"`
	Seed    map[string]string `yaml:"seed"` // dirección → monto minteado y aprobado al arrancar
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// APIConfig controla el servidor HTTP.
type APIConfig struct {
	Port        int      `yaml:"port"`
	APIKey      string   `yaml:"api_key"`
	CORSOrigins []string `yaml:"cors_origins"`
	RPS         float64  `yaml:"rps"` // por caller; 0 desactiva
	Burst       int      `yaml:"burst"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Validate revisa los campos que el motor no puede arrancar sin ellos.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Engine.Operator) {
		return fmt.Errorf("engine.operator: invalid address %q", c.Engine.Operator)
	}
	if _, err := c.MinStake(); err != nil {
		return err
	}
	switch c.Ledger.Mode {
	case LedgerMemory:
		if c.Ledger.Custody != "" && !common.IsHexAddress(c.Ledger.Custody) {
			return fmt.Errorf("ledger.custody: invalid address %q", c.Ledger.Custody)
		}
		for addr, amount := range c.Ledger.Seed {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("ledger.seed: invalid address %q", addr)
			}
			if _, err := uint256.FromDecimal(amount); err != nil {
				return fmt.Errorf("ledger.seed[%s]: %q: %w", addr, amount, err)
			}
		}
	case LedgerERC20:
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("ledger.rpc_url is required in erc20 mode")
		}
		if !common.IsHexAddress(c.Ledger.Token) {
			return fmt.Errorf("ledger.token: invalid address %q", c.Ledger.Token)
		}
		if c.Ledger.PrivateKey == "" {
			return fmt.Errorf("ledger.private_key is required in erc20 mode")
		}
	default:
		return fmt.Errorf("ledger.mode: unknown mode %q", c.Ledger.Mode)
	}
	return nil
}

// Operator devuelve la dirección del operador.
func (c *Config) Operator() common.Address {
	return common.HexToAddress(c.Engine.Operator)
}

// MinStake devuelve el stake mínimo; cero si no está configurado.
func (c *Config) MinStake() (*uint256.Int, error) {
	if c.Engine.MinStake == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(c.Engine.MinStake)
	if err != nil {
		return nil, fmt.Errorf("engine.min_stake: %q: %w", c.Engine.MinStake, err)
	}
	return v, nil
}

// ReceiptTimeout devuelve la espera máxima por un receipt on-chain.
func (c *Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.Ledger.ReceiptTimeoutSeconds) * time.Second
}

// ReconcileInterval devuelve el período del loop de reconciliación.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Ledger.ReconcileIntervalSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPERATOR_ADDRESS"); v != "" {
		cfg.Engine.Operator = v
	}
	if v := os.Getenv("LEDGER_PRIVATE_KEY"); v != "" {
		cfg.Ledger.PrivateKey = v
	}
	if v := os.Getenv("LEDGER_RPC_URL"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	cfg.Ledger.Mode = strings.ToLower(strings.TrimSpace(cfg.Ledger.Mode))
	if cfg.Ledger.Mode == "" {
		cfg.Ledger.Mode = LedgerMemory
	}
	if cfg.Ledger.RPS <= 0 {
		cfg.Ledger.RPS = 10
	}
	if cfg.Ledger.Custody == "" {
		cfg.Ledger.Custody = DefaultCustody
	}
	if cfg.Ledger.ReceiptTimeoutSeconds <= 0 {
		cfg.Ledger.ReceiptTimeoutSeconds = 120
	}
	if cfg.Ledger.ReconcileIntervalSeconds <= 0 {
		cfg.Ledger.ReconcileIntervalSeconds = 60
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "auctionbets.db"
	}
	if cfg.API.Port <= 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
