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
database:
  host: "db.internal"
  port: 5432

cache:
  addr: "redis.internal:6379"

queue:
  addr: "redis.internal:6379"
  max_job_retries: 5
  job_backoff: "2s"

llm:
  provider: "anthropic"
  model: "claude-opus"
  timeout: "45s"
  temperature: 0.1
  max_tokens: 4096

reconciliation:
  confidence_threshold: 0.9
`
				Expect(os.WriteFile(configFile, []byte(validConfig), 0644)).To(Succeed())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Database.Host).To(Equal("db.internal"))
				Expect(cfg.Queue.MaxJobRetries).To(Equal(5))
				Expect(cfg.Queue.JobBackoff).To(Equal(2 * time.Second))
				Expect(cfg.LLM.Model).To(Equal("claude-opus"))
				Expect(cfg.LLM.Timeout).To(Equal(45 * time.Second))
				Expect(cfg.Reconciliation.ConfidenceThreshold).To(Equal(0.9))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimal := `
llm:
  provider: "bedrock"
`
				Expect(os.WriteFile(configFile, []byte(minimal), 0644)).To(Succeed())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.LLM.Provider).To(Equal("bedrock"))
				Expect(cfg.Database.Port).To(Equal(5432))
				Expect(cfg.Queue.MaxJobRetries).To(Equal(3))
				Expect(cfg.Reconciliation.ConfidenceThreshold).To(Equal(0.85))
				Expect(cfg.Reconciliation.Weights["global"]).To(Equal(1.5))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalid := `
database:
  host: "x"
  invalid_yaml: [
llm:
  provider: "anthropic"
`
				Expect(os.WriteFile(configFile, []byte(invalid), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when config has invalid duration formats", func() {
			BeforeEach(func() {
				invalid := `
llm:
  provider: "anthropic"
  timeout: "not-a-duration"
`
				Expect(os.WriteFile(configFile, []byte(invalid), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when the llm provider is not recognized", func() {
			BeforeEach(func() {
				invalid := `
llm:
  provider: "not-a-real-provider"
`
				Expect(os.WriteFile(configFile, []byte(invalid), 0644)).To(Succeed())
			})

			It("should fail validation", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("invalid configuration"))
			})
		})
	})
})
