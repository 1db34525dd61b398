package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "materials-dev",
		}),
	)
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Server.Port)
	}
	if cfg.Cache.DefaultRegion != "00000" {
		t.Errorf("expected default region fallback, got %q", cfg.Cache.DefaultRegion)
	}
	if cfg.Cache.HitThreshold != 0.8 {
		t.Errorf("expected default hit threshold 0.8, got %v", cfg.Cache.HitThreshold)
	}
	if cfg.Cache.ExactLimit != 5 || cfg.Cache.FuzzyLimit != 10 || cfg.Cache.DumpLimit != 50 {
		t.Errorf("unexpected cascade limits: %+v", cfg.Cache)
	}
	if cfg.LLM.Timeout != 15*time.Second {
		t.Errorf("expected default llm timeout, got %v", cfg.LLM.Timeout)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("expected empty llm key by default, got %q", cfg.LLM.APIKey)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "materials-prod",
			"API_PORT":                 "9090",
			"API_CACHE_DEFAULT_REGION": "78745",
			"API_CACHE_HIT_THRESHOLD":  "0.9",
			"API_CACHE_EXACT_LIMIT":    "3",
			"API_LLM_MODEL":            "gpt-4o",
			"API_LLM_TIMEOUT":          "5s",
			"API_JOBS_SCRAPE_TOPIC":    "material-scrape-jobs",
		}),
	)
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port override not applied: %q", cfg.Server.Port)
	}
	if cfg.Cache.DefaultRegion != "78745" {
		t.Errorf("region override not applied: %q", cfg.Cache.DefaultRegion)
	}
	if cfg.Cache.HitThreshold != 0.9 {
		t.Errorf("threshold override not applied: %v", cfg.Cache.HitThreshold)
	}
	if cfg.Cache.ExactLimit != 3 {
		t.Errorf("exact limit override not applied: %d", cfg.Cache.ExactLimit)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("llm model override not applied: %q", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != 5*time.Second {
		t.Errorf("llm timeout override not applied: %v", cfg.LLM.Timeout)
	}
	if cfg.Jobs.ScrapeTopic != "material-scrape-jobs" {
		t.Errorf("scrape topic override not applied: %q", cfg.Jobs.ScrapeTopic)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	var requested string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		requested = ref
		return "resolved-key", nil
	})

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "materials-dev",
			"API_LLM_API_KEY":          "sm://llm-api-key",
		}),
	)
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if requested != "secret://llm-api-key" {
		t.Errorf("expected normalised secret ref, got %q", requested)
	}
	if cfg.LLM.APIKey != "resolved-key" {
		t.Errorf("expected resolved key, got %q", cfg.LLM.APIKey)
	}
}

func TestLoadSecretResolverMissing(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "materials-dev",
			"API_LLM_API_KEY":          "secret://llm-api-key",
		}),
	)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing firestore project",
			env:  map[string]string{},
		},
		{
			name: "threshold out of range",
			env: map[string]string{
				"API_FIRESTORE_PROJECT_ID": "materials-dev",
				"API_CACHE_HIT_THRESHOLD":  "1.5",
			},
		},
		{
			name: "non-positive limit",
			env: map[string]string{
				"API_FIRESTORE_PROJECT_ID": "materials-dev",
				"API_CACHE_FUZZY_LIMIT":    "-1",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(tc.env))
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}
