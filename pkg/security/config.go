// Package security holds the TLS settings shared by the gateway listener and
// the broker connection.
package security

// ServerTLSConfig holds TLS configuration for the HTTP/WebSocket listener
type ServerTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	CertFile   string `mapstructure:"cert_file" json:"cert_file,omitempty"`
	KeyFile    string `mapstructure:"key_file" json:"key_file,omitempty"`
	MinVersion string `mapstructure:"min_version" json:"min_version,omitempty"` // "1.2" or "1.3"

	// ClientCAFiles turns on client certificate verification
	ClientCAFiles     []string `mapstructure:"client_ca_files" json:"client_ca_files,omitempty"`
	RequireClientCert bool     `mapstructure:"require_client_cert" json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `mapstructure:"allowed_client_cns" json:"allowed_client_cns,omitempty"`
}

// ClientTLSConfig holds TLS configuration for outbound connections.
// The system CA bundle is always trusted; CAFiles are additional roots.
type ClientTLSConfig struct {
	Enabled            bool     `mapstructure:"enabled" json:"enabled"`
	CAFiles            []string `mapstructure:"ca_files" json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify" json:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `mapstructure:"min_version" json:"min_version,omitempty"`

	// Client certificate presented to the server
	CertFile string `mapstructure:"cert_file" json:"cert_file,omitempty"`
	KeyFile  string `mapstructure:"key_file" json:"key_file,omitempty"`
}
