package cfg

import (
	"os"
	"testing"
)

func clearExchangeEnv(t *testing.T) {
	t.Helper()
	keys := []string{EnvAPIKey, EnvAPISecret, EnvBaseURL, EnvWsURL, EnvSymbols, EnvDryRun, EnvForceLiveTrading}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, c CoreConfig)
	}{
		{
			name: "valid dry-run config with required fields",
			envVars: map[string]string{
				EnvAPIKey:    "test_key",
				EnvAPISecret: "test_secret",
				EnvDryRun:    "true",
			},
			wantErr: false,
			validate: func(t *testing.T, c CoreConfig) {
				if c.Exchange.APIKey != "test_key" {
					t.Errorf("expected APIKey 'test_key', got %s", c.Exchange.APIKey)
				}
				if len(c.Exchange.Symbols) != 1 || c.Exchange.Symbols[0] != "BTC-USDT" {
					t.Errorf("expected default symbols [BTC-USDT], got %v", c.Exchange.Symbols)
				}
				if c.Risk.RiskPerTrade != DefaultRiskPerTrade {
					t.Errorf("expected default riskPerTrade %g, got %g", DefaultRiskPerTrade, c.Risk.RiskPerTrade)
				}
			},
		},
		{
			name: "missing credentials",
			envVars: map[string]string{
				EnvDryRun: "true",
			},
			wantErr: true,
		},
		{
			name: "live trading without force flag is rejected",
			envVars: map[string]string{
				EnvAPIKey:    "k",
				EnvAPISecret: "s",
				EnvDryRun:    "false",
			},
			wantErr: true,
		},
		{
			name: "live trading with force flag succeeds",
			envVars: map[string]string{
				EnvAPIKey:           "k",
				EnvAPISecret:        "s",
				EnvDryRun:           "false",
				EnvForceLiveTrading: "true",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearExchangeEnv(t)
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer clearExchangeEnv(t)

			c, err := loadFromEnv()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, c)
			}
		})
	}
}

func TestValidateRiskBounds(t *testing.T) {
	c := CoreConfig{
		Exchange: ExchangeConfig{APIKey: "k", APISecret: "s", BaseURL: "x", WsURL: "y", Symbols: []string{"BTC-USDT"}},
		Risk: RiskConfig{
			RiskPerTrade: 0.5, // out of bounds
		},
		DryRun: true,
	}
	if err := validate(&c); err == nil {
		t.Error("expected validation error for out-of-bounds riskPerTrade")
	}
}
