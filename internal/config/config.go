package config

import (
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/pinmap"
)

// Version defines the ChirpStack OTAA Provisioner version.
var Version string

// KEK defines a key-encryption-key used to wrap the AppKey at rest.
type KEK struct {
	Label string `mapstructure:"label"`
	KEK   string `mapstructure:"kek"`
}

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel    int  `mapstructure:"log_level"`
		LogToSyslog bool `mapstructure:"log_to_syslog"`
	} `mapstructure:"general"`

	Storage struct {
		Type string `mapstructure:"type"`

		File struct {
			Dir string `mapstructure:"dir"`
		} `mapstructure:"file"`

		Redis struct {
			URL        string   `mapstructure:"url"` // deprecated
			Servers    []string `mapstructure:"servers"`
			Cluster    bool     `mapstructure:"cluster"`
			MasterName string   `mapstructure:"master_name"`
			PoolSize   int      `mapstructure:"pool_size"`
			Password   string   `mapstructure:"password"`
			Database   int      `mapstructure:"database"`
			TLSEnabled bool     `mapstructure:"tls_enabled"`
		} `mapstructure:"redis"`

		PostgreSQL struct {
			DSN                string `mapstructure:"dsn"`
			Automigrate        bool   `mapstructure:"automigrate"`
			MaxOpenConnections int    `mapstructure:"max_open_connections"`
			MaxIdleConnections int    `mapstructure:"max_idle_connections"`
		} `mapstructure:"postgresql"`

		KEK struct {
			Set      []KEK  `mapstructure:"set"`
			WrapWith string `mapstructure:"wrap_with"`
		} `mapstructure:"kek"`
	} `mapstructure:"storage"`

	Bridge struct {
		ActiveSlot string `mapstructure:"active_slot"`
		Layout     string `mapstructure:"layout"`
	} `mapstructure:"bridge"`

	PinMap pinmap.PinMap `mapstructure:"pin_map"`

	API struct {
		Bind           string `mapstructure:"bind"`
		CACert         string `mapstructure:"ca_cert"`
		TLSCert        string `mapstructure:"tls_cert"`
		TLSKey         string `mapstructure:"tls_key"`
		AllowKeyReveal bool   `mapstructure:"allow_key_reveal"`
	} `mapstructure:"api"`

	Integration struct {
		Type string `mapstructure:"type"`

		MQTT struct {
			Server             string `mapstructure:"server"`
			Username           string `mapstructure:"username"`
			Password           string `mapstructure:"password"`
			QOS                uint8  `mapstructure:"qos"`
			CleanSession       bool   `mapstructure:"clean_session"`
			ClientID           string `mapstructure:"client_id"`
			CACert             string `mapstructure:"ca_cert"`
			TLSCert            string `mapstructure:"tls_cert"`
			TLSKey             string `mapstructure:"tls_key"`
			EventTopicTemplate string `mapstructure:"event_topic_template"`
		} `mapstructure:"mqtt"`

		AMQP struct {
			URL                     string `mapstructure:"url"`
			EventRoutingKeyTemplate string `mapstructure:"event_routing_key_template"`
		} `mapstructure:"amqp"`
	} `mapstructure:"integration"`

	Monitoring struct {
		Bind                string `mapstructure:"bind"`
		PrometheusEndpoint  bool   `mapstructure:"prometheus_endpoint"`
		HealthcheckEndpoint bool   `mapstructure:"healthcheck_endpoint"`
	} `mapstructure:"monitoring"`
}

// C holds the global configuration.
var C Config
