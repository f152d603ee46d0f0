package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

func TestConfigureSecurity(t *testing.T) {
	tests := []struct {
		name          string
		sec           SecurityConfig
		wantErr       bool
		wantSASL      bool
		wantMechanism sarama.SASLMechanism
		wantTLS       bool
		wantSCRAM     bool
		wantToken     bool
	}{
		{
			name: "plaintext",
			sec:  SecurityConfig{Protocol: "PLAINTEXT"},
		},
		{
			name: "empty protocol",
			sec:  SecurityConfig{},
		},
		{
			name:    "ssl",
			sec:     SecurityConfig{Protocol: "SSL"},
			wantTLS: true,
		},
		{
			name:          "sasl plain",
			sec:           SecurityConfig{Protocol: "SASL_PLAINTEXT", SASLMechanism: "PLAIN", SASLUsername: "u", SASLPassword: "p"},
			wantSASL:      true,
			wantMechanism: sarama.SASLTypePlaintext,
		},
		{
			name:          "scram sha256 over tls",
			sec:           SecurityConfig{Protocol: "SASL_SSL", SASLMechanism: "SCRAM-SHA-256", SASLUsername: "u", SASLPassword: "p"},
			wantSASL:      true,
			wantMechanism: sarama.SASLTypeSCRAMSHA256,
			wantTLS:       true,
			wantSCRAM:     true,
		},
		{
			name:          "scram sha512",
			sec:           SecurityConfig{Protocol: "SASL_PLAINTEXT", SASLMechanism: "SCRAM-SHA-512", SASLUsername: "u", SASLPassword: "p"},
			wantSASL:      true,
			wantMechanism: sarama.SASLTypeSCRAMSHA512,
			wantSCRAM:     true,
		},
		{
			name:          "msk iam",
			sec:           SecurityConfig{Protocol: "SASL_SSL", SASLMechanism: "AWS_MSK_IAM", AWSRegion: "eu-west-1"},
			wantSASL:      true,
			wantMechanism: sarama.SASLTypeOAuth,
			wantTLS:       true,
			wantToken:     true,
		},
		{
			name:    "msk iam without region",
			sec:     SecurityConfig{Protocol: "SASL_SSL", SASLMechanism: "AWS_MSK_IAM"},
			wantErr: true,
		},
		{
			name:    "unknown mechanism",
			sec:     SecurityConfig{Protocol: "SASL_SSL", SASLMechanism: "GSSAPI"},
			wantErr: true,
		},
		{
			name:    "unknown protocol",
			sec:     SecurityConfig{Protocol: "QUIC"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := sarama.NewConfig()
			err := configureSecurity(config, tt.sec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("configureSecurity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if config.Net.SASL.Enable != tt.wantSASL {
				t.Errorf("SASL.Enable = %v, want %v", config.Net.SASL.Enable, tt.wantSASL)
			}
			if tt.wantSASL && config.Net.SASL.Mechanism != tt.wantMechanism {
				t.Errorf("SASL.Mechanism = %v, want %v", config.Net.SASL.Mechanism, tt.wantMechanism)
			}
			if config.Net.TLS.Enable != tt.wantTLS {
				t.Errorf("TLS.Enable = %v, want %v", config.Net.TLS.Enable, tt.wantTLS)
			}
			if (config.Net.SASL.SCRAMClientGeneratorFunc != nil) != tt.wantSCRAM {
				t.Errorf("SCRAMClientGeneratorFunc set = %v, want %v", config.Net.SASL.SCRAMClientGeneratorFunc != nil, tt.wantSCRAM)
			}
			if (config.Net.SASL.TokenProvider != nil) != tt.wantToken {
				t.Errorf("TokenProvider set = %v, want %v", config.Net.SASL.TokenProvider != nil, tt.wantToken)
			}
		})
	}
}

func TestConfigureSecurity_TLSVerification(t *testing.T) {
	config := sarama.NewConfig()
	if err := configureSecurity(config, SecurityConfig{Protocol: "SSL"}); err != nil {
		t.Fatal(err)
	}
	if config.Net.TLS.Config.InsecureSkipVerify {
		t.Errorf("InsecureSkipVerify = true, want verification by default")
	}

	config = sarama.NewConfig()
	if err := configureSecurity(config, SecurityConfig{Protocol: "SSL", InsecureSkipVerify: true}); err != nil {
		t.Fatal(err)
	}
	if !config.Net.TLS.Config.InsecureSkipVerify {
		t.Errorf("InsecureSkipVerify = false, want true")
	}
}

func TestXDGSCRAMClient_Conversation(t *testing.T) {
	tests := []struct {
		name      string
		client    scram.HashGeneratorFcn
		server    scram.HashGeneratorFcn
		password  string
		wantValid bool
	}{
		{"sha256", SHA256(), scram.SHA256, "secret", true},
		{"sha512", SHA512(), scram.SHA512, "secret", true},
		{"wrong password", SHA256(), scram.SHA256, "guess", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reference, err := tt.server.NewClient("recorder", "secret", "")
			if err != nil {
				t.Fatal(err)
			}
			creds := reference.GetStoredCredentials(scram.KeyFactors{Salt: "kafbag-salt", Iters: 4096})
			server, err := tt.server.NewServer(func(string) (scram.StoredCredentials, error) {
				return creds, nil
			})
			if err != nil {
				t.Fatal(err)
			}
			conv := server.NewConversation()

			client := &XDGSCRAMClient{HashGeneratorFcn: tt.client}
			if err := client.Begin("recorder", tt.password, ""); err != nil {
				t.Fatalf("Begin() error = %v", err)
			}

			var challenge string
			for !client.Done() {
				response, err := client.Step(challenge)
				if err != nil {
					break
				}
				if conv.Done() {
					break
				}
				challenge, err = conv.Step(response)
				if err != nil {
					break
				}
			}

			if conv.Valid() != tt.wantValid {
				t.Errorf("server Valid() = %v, want %v", conv.Valid(), tt.wantValid)
			}
		})
	}
}
