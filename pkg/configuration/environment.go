package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the env files that exist in the working directory. When none
// does, the directory holding the nearest go.mod is tried instead.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles("", envFiles)
	if len(existing) == 0 {
		if root, ok := findModuleRoot(); ok {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, envFiles []string) []string {
	out := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		path := file
		if dir != "" {
			path = filepath.Join(dir, file)
		}
		if fs.FileExists(path) {
			out = append(out, path)
		}
	}
	return out
}

func findModuleRoot() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for dir := wd; ; {
		if fs.FileExists(filepath.Join(dir, "go.mod")) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"orgtree"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"orgtree"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
	Addr    string `env:"PROMETHEUS_METRICS_ADDR" envDefault:"localhost:9464"`
}

type HierarchyOptions struct {
	MaxDepth              int `env:"HIERARCHY_MAX_DEPTH" envDefault:"10"`
	MaxDepartmentDepth    int `env:"HIERARCHY_MAX_DEPARTMENT_DEPTH" envDefault:"8"`
	MaxDepartmentChildren int `env:"HIERARCHY_MAX_DEPARTMENT_CHILDREN" envDefault:"20"`

	DepartmentEncoding   string `env:"HIERARCHY_DEPARTMENT_ENCODING" envDefault:"range"`
	OrganizationEncoding string `env:"HIERARCHY_ORGANIZATION_ENCODING" envDefault:"path"`
	EnterpriseEncoding   string `env:"HIERARCHY_ENTERPRISE_ENCODING" envDefault:"path"`

	AuditBatchSize int           `env:"HIERARCHY_AUDIT_BATCH_SIZE" envDefault:"500"`
	AuditInterval  time.Duration `env:"HIERARCHY_AUDIT_INTERVAL" envDefault:"24h"`

	LockBackend string        `env:"HIERARCHY_LOCK_BACKEND" envDefault:"local"`
	LockWait    time.Duration `env:"HIERARCHY_LOCK_WAIT" envDefault:"5s"`
	LockTTL     time.Duration `env:"HIERARCHY_LOCK_TTL" envDefault:"60s"`

	CacheEnabled bool          `env:"HIERARCHY_CACHE_ENABLED" envDefault:"true"`
	CacheTTL     time.Duration `env:"HIERARCHY_CACHE_TTL" envDefault:"30s"`

	PolicyPath string `env:"HIERARCHY_POLICY_PATH" envDefault:""`
}

type Configuration struct {
	Database      DatabaseOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	Hierarchy     HierarchyOptions

	RedisURL         string `env:"REDIS_URL" envDefault:"localhost:6379"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH" envDefault:""`

	// RLSEnforce toggles tenant row level security on every transaction:
	// disabled|enforce.
	RLSEnforce string `env:"RLS_ENFORCE" envDefault:"disabled"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.validateRLS(); err != nil {
		return err
	}
	if err := c.validateHierarchy(); err != nil {
		return err
	}

	if strings.TrimSpace(c.LogPath) == "" {
		c.logger = logging.ConsoleLogger(c.LogrusLogLevel())
	} else {
		f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
		if err != nil {
			return err
		}
		c.logFile = f
		c.logger = logger
	}

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

func (c *Configuration) validateRLS() error {
	mode := strings.ToLower(strings.TrimSpace(c.RLSEnforce))
	if mode == "" {
		mode = "disabled"
	}
	switch mode {
	case "disabled", "enforce":
	default:
		return fmt.Errorf("invalid RLS_ENFORCE=%q (expected disabled|enforce)", c.RLSEnforce)
	}

	if mode == "enforce" && strings.EqualFold(strings.TrimSpace(c.Database.User), "postgres") {
		return fmt.Errorf("RLS_ENFORCE=enforce requires a non-superuser DB_USER (postgres will bypass RLS)")
	}

	c.RLSEnforce = mode
	return nil
}

func (c *Configuration) validateHierarchy() error {
	h := &c.Hierarchy
	if h.MaxDepth <= 0 {
		return fmt.Errorf("invalid HIERARCHY_MAX_DEPTH=%d (must be positive)", h.MaxDepth)
	}
	if h.MaxDepartmentDepth <= 0 || h.MaxDepartmentDepth > h.MaxDepth {
		h.MaxDepartmentDepth = h.MaxDepth
	}
	if h.MaxDepartmentChildren < 0 {
		return fmt.Errorf("invalid HIERARCHY_MAX_DEPARTMENT_CHILDREN=%d (0 disables the limit)", h.MaxDepartmentChildren)
	}
	if h.AuditBatchSize <= 0 {
		h.AuditBatchSize = 500
	}

	for name, raw := range map[string]*string{
		"HIERARCHY_DEPARTMENT_ENCODING":   &h.DepartmentEncoding,
		"HIERARCHY_ORGANIZATION_ENCODING": &h.OrganizationEncoding,
		"HIERARCHY_ENTERPRISE_ENCODING":   &h.EnterpriseEncoding,
	} {
		mode := strings.ToLower(strings.TrimSpace(*raw))
		if mode == "" {
			mode = "path"
		}
		switch mode {
		case "path", "range":
		default:
			return fmt.Errorf("invalid %s=%q (expected path|range)", name, *raw)
		}
		*raw = mode
	}

	backend := strings.ToLower(strings.TrimSpace(h.LockBackend))
	if backend == "" {
		backend = "local"
	}
	switch backend {
	case "local", "redis":
	default:
		return fmt.Errorf("invalid HIERARCHY_LOCK_BACKEND=%q (expected local|redis)", h.LockBackend)
	}
	if backend == "redis" && strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("HIERARCHY_LOCK_BACKEND=redis requires REDIS_URL")
	}
	h.LockBackend = backend
	return nil
}

func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
