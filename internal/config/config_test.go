package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
storage:
  root: "/var/lib/binsight"
  structured_store_url: "postgres://localhost/binsight"
  max_file_size_bytes: 104857600
  result_ttl_seconds: 3600

jobs:
  worker_count: 8
  job_lease_seconds: 120
  max_attempts: 5

rate_limit:
  redis_url: "redis://localhost:6379"
  window_seconds: 60
  tiers:
    free:
      max_jobs_per_window: 5
      max_pending_jobs: 2
      daily_cost_ceiling_usd: 1.0

providers:
  - id: "anthropic-main"
    kind: "anthropic"
    model: "claude-3-haiku"
    priority: 10

engine:
  binary_path: "/usr/local/bin/re-engine"
  address_field_path: ".addr"

logging:
  level: "debug"
  encoding: "console"
`
				Expect(os.WriteFile(configFile, []byte(validConfig), 0644)).To(Succeed())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Storage.Root).To(Equal("/var/lib/binsight"))
				Expect(cfg.Storage.StructuredStoreURL).To(Equal("postgres://localhost/binsight"))
				Expect(cfg.Storage.MaxFileSizeBytes).To(Equal(int64(104857600)))
				Expect(cfg.Storage.ResultTTLSeconds).To(Equal(int64(3600)))

				Expect(cfg.Jobs.WorkerCount).To(Equal(8))
				Expect(cfg.Jobs.LeaseSeconds).To(Equal(int64(120)))
				Expect(cfg.Jobs.MaxAttempts).To(Equal(5))

				Expect(cfg.RateLimit.Tiers).To(HaveKey("free"))
				Expect(cfg.RateLimit.Tiers["free"].MaxPendingJobs).To(Equal(2))

				Expect(cfg.Providers).To(HaveLen(1))
				Expect(cfg.Providers[0].ID).To(Equal("anthropic-main"))
				Expect(cfg.Providers[0].Kind).To(Equal("anthropic"))

				Expect(cfg.Engine.AddressFieldPath).To(Equal(".addr"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Logging.Encoding).To(Equal("console"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
storage:
  root: "/data"
  structured_store_url: "sqlite3:///data/db.sqlite"

providers:
  - id: "ollama-local"
    kind: "ollama"
    model: "llama3"
`
				Expect(os.WriteFile(configFile, []byte(minimalConfig), 0644)).To(Succeed())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Storage.MaxFileSizeBytes).To(Equal(int64(500 * 1024 * 1024)))
				Expect(cfg.Jobs.WorkerCount).To(Equal(4))
				Expect(cfg.Jobs.LeaseSeconds).To(Equal(int64(300)))
				Expect(cfg.Engine.AddressFieldPath).To(Equal(".address"))
				Expect(cfg.Logging.Level).To(Equal("info"))
				Expect(cfg.Logging.Encoding).To(Equal("json"))
				Expect(cfg.Telemetry.MetricsPort).To(Equal("9090"))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
storage:
  root: [
`
				Expect(os.WriteFile(configFile, []byte(invalidConfig), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("parse config file"))
			})
		})

		Context("when the provider list is empty", func() {
			BeforeEach(func() {
				noProvidersConfig := `
storage:
  root: "/data"
  structured_store_url: "sqlite3:///data/db.sqlite"
`
				Expect(os.WriteFile(configFile, []byte(noProvidersConfig), 0644)).To(Succeed())
			})

			It("should fail validation", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("at least one provider"))
			})
		})
	})

	Describe("defaults", func() {
		It("leaves explicitly set values untouched", func() {
			cfg := &Config{Jobs: JobsConfig{WorkerCount: 16}}
			cfg.defaults()
			Expect(cfg.Jobs.WorkerCount).To(Equal(16))
		})

		It("derives engine concurrency from worker count when unset", func() {
			cfg := &Config{Jobs: JobsConfig{WorkerCount: 6}}
			cfg.defaults()
			Expect(cfg.Engine.MaxConcurrentSessions).To(Equal(6))
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = &Config{
				Storage: StorageConfig{Root: "/data", StructuredStoreURL: "postgres://localhost/db"},
				Jobs:    JobsConfig{WorkerCount: 4},
				Providers: []ProviderConfig{
					{ID: "anthropic-main", Kind: "anthropic", Model: "claude-3-haiku"},
				},
				Pipeline: PipelineConfig{PartialFailureThreshold: 0.8},
			}
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				Expect(validate(cfg)).To(Succeed())
			})
		})

		Context("when storage root is missing", func() {
			BeforeEach(func() { cfg.Storage.Root = "" })

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("storage.root is required"))
			})
		})

		Context("when worker count is zero", func() {
			BeforeEach(func() { cfg.Jobs.WorkerCount = 0 })

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("worker_count must be >= 1"))
			})
		})

		Context("when two providers share an id", func() {
			BeforeEach(func() {
				cfg.Providers = append(cfg.Providers, ProviderConfig{ID: "anthropic-main", Kind: "gemini"})
			})

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("duplicate provider id"))
			})
		})

		Context("when a provider kind is unknown", func() {
			BeforeEach(func() { cfg.Providers[0].Kind = "magic" })

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unknown kind"))
			})
		})

		Context("when the partial failure threshold is out of range", func() {
			BeforeEach(func() { cfg.Pipeline.PartialFailureThreshold = 1.5 })

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("partial_failure_threshold"))
			})
		})
	})

	Describe("loadFromEnv", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = &Config{}
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("STORAGE_ROOT", "/mnt/data")
				os.Setenv("STRUCTURED_STORE_URL", "postgres://env/db")
				os.Setenv("WORKER_COUNT", "12")
				os.Setenv("LOG_LEVEL", "warn")
				os.Setenv("METRICS_ENABLED", "true")
				os.Setenv("METRICS_PORT", "9999")
			})

			It("should load values from the environment", func() {
				Expect(loadFromEnv(cfg)).To(Succeed())

				Expect(cfg.Storage.Root).To(Equal("/mnt/data"))
				Expect(cfg.Storage.StructuredStoreURL).To(Equal("postgres://env/db"))
				Expect(cfg.Jobs.WorkerCount).To(Equal(12))
				Expect(cfg.Logging.Level).To(Equal("warn"))
				Expect(cfg.Telemetry.MetricsEnabled).To(BeTrue())
				Expect(cfg.Telemetry.MetricsPort).To(Equal("9999"))
			})
		})

		Context("when WORKER_COUNT is not a number", func() {
			BeforeEach(func() { os.Setenv("WORKER_COUNT", "not-a-number") })

			It("should return an error", func() {
				err := loadFromEnv(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("WORKER_COUNT"))
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify cfg", func() {
				original := *cfg
				Expect(loadFromEnv(cfg)).To(Succeed())
				Expect(*cfg).To(Equal(original))
			})
		})
	})
})
