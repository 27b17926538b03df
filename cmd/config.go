package cmd

import (
	"fmt"
	"strconv"
	"strings"

	cfgpkg "github.com/KaramelBytes/dataloom/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set DataLoom configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "listen_addr: %s\n", c.ListenAddr)
		fmt.Fprintf(out, "storage_url: %s\n", c.StorageURL)
		fmt.Fprintf(out, "http_timeout_sec: %d\n", c.HTTPTimeoutSec)
		fmt.Fprintf(out, "retry_max_attempts: %d\n", c.RetryMaxAttempts)
		fmt.Fprintf(out, "retry_base_delay_ms: %d\n", c.RetryBaseDelayMs)
		fmt.Fprintf(out, "retry_max_delay_ms: %d\n", c.RetryMaxDelayMs)
		fmt.Fprintf(out, "max_upload_mb: %d\n", c.MaxUploadMB)
		fmt.Fprintf(out, "log_level: %s\n", c.LogLevel)
		fmt.Fprintf(out, "log_format: %s\n", c.LogFormat)
		fmt.Fprintf(out, "assistant_provider: %s\n", c.AssistantProvider)
		fmt.Fprintf(out, "chat_model: %s\n", c.ChatModel)
		fmt.Fprintf(out, "vision_model: %s\n", c.VisionModel)
		if c.AssistantProvider == "ollama" {
			fmt.Fprintf(out, "ollama_host: %s\n", c.OllamaHost)
		}
		if c.ImagePrompt != "" {
			fmt.Fprintf(out, "image_prompt: %q\n", c.ImagePrompt)
		}
		fmt.Fprintf(out, "temperature: %.3f\n", c.Temperature)
		if c.RedisAddr != "" {
			fmt.Fprintf(out, "redis_addr: %s\n", c.RedisAddr)
			fmt.Fprintf(out, "redis_password: %s\n", mask(c.RedisPassword))
			fmt.Fprintf(out, "redis_db: %d\n", c.RedisDB)
			fmt.Fprintf(out, "cache_ttl_sec: %d\n", c.CacheTTLSec)
		} else {
			fmt.Fprintln(out, "redis_addr: (cache disabled)")
		}
		fmt.Fprintf(out, "metrics_enabled: %t\n", c.MetricsEnabled)
		fmt.Fprintf(out, "cors_origins: %s\n", strings.Join(c.CORSOrigins, ","))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if err := setKey(c, args[0], args[1]); err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func setKey(c *cfgpkg.Global, key, val string) error {
	atoi := func(lo int) (int, error) {
		i, err := strconv.Atoi(val)
		if err != nil || i < lo {
			return 0, fmt.Errorf("invalid int for %s: %v", key, val)
		}
		return i, nil
	}
	var err error
	switch key {
	case "listen_addr":
		c.ListenAddr = val
	case "storage_url":
		c.StorageURL = strings.TrimRight(val, "/")
	case "http_timeout_sec":
		c.HTTPTimeoutSec, err = atoi(1)
	case "retry_max_attempts":
		c.RetryMaxAttempts, err = atoi(1)
	case "retry_base_delay_ms":
		c.RetryBaseDelayMs, err = atoi(0)
	case "retry_max_delay_ms":
		c.RetryMaxDelayMs, err = atoi(0)
	case "max_upload_mb":
		c.MaxUploadMB, err = atoi(1)
	case "log_level":
		c.LogLevel = strings.ToLower(val)
	case "log_format":
		c.LogFormat = strings.ToLower(val)
	case "assistant_provider":
		switch strings.ToLower(val) {
		case "gemini", "google":
			c.AssistantProvider = "gemini"
		case "ollama", "local":
			c.AssistantProvider = "ollama"
		default:
			return fmt.Errorf("invalid assistant_provider: %s (use gemini or ollama)", val)
		}
	case "chat_model":
		c.ChatModel = val
	case "vision_model":
		c.VisionModel = val
	case "ollama_host":
		c.OllamaHost = val
	case "image_prompt":
		c.ImagePrompt = val
	case "temperature":
		f, perr := strconv.ParseFloat(val, 64)
		if perr != nil || f < 0 {
			return fmt.Errorf("invalid float for temperature: %v", val)
		}
		c.Temperature = f
	case "redis_addr":
		c.RedisAddr = val
	case "redis_password":
		c.RedisPassword = val
	case "redis_db":
		c.RedisDB, err = atoi(0)
	case "cache_ttl_sec":
		c.CacheTTLSec, err = atoi(1)
	case "metrics_enabled":
		b, perr := strconv.ParseBool(val)
		if perr != nil {
			return fmt.Errorf("invalid bool for metrics_enabled: %v", val)
		}
		c.MetricsEnabled = b
	case "cors_origins":
		var origins []string
		for _, o := range strings.Split(val, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) == 0 {
			return fmt.Errorf("cors_origins needs at least one origin")
		}
		c.CORSOrigins = origins
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return err
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}
