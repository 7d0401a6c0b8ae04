package monitor

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v2"
)

const sampleYaml = `
port_device: /dev/ttyUSB0
upload_interval_seconds: 60
sample_count: 5
scale_factor: 10
location: back porch
sensor_id: 1
repo_owner: avid-inventor
repo_name: air-quality
table_name: measurements
db_host: db.bit.io
db_port: 5432
`

func TestConfigUnmarshalsFromYaml(t *testing.T) {
	c := Config{}
	if err := yaml.Unmarshal([]byte(sampleYaml), &c); err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("sample config should validate, got %s", err)
	}
	if c.PortDevice != "/dev/ttyUSB0" || c.SampleCount != 5 || c.RepoOwner != "avid-inventor" {
		t.Errorf("fields not populated: %+v", c)
	}
}

func TestValidateNamesTheMissingField(t *testing.T) {
	mutations := []struct {
		mutate func(*Config)
		want   string
	}{
		{func(c *Config) { c.PortDevice = "" }, "port_device"},
		{func(c *Config) { c.UploadIntervalSeconds = 0 }, "upload_interval_seconds"},
		{func(c *Config) { c.SampleCount = -1 }, "sample_count"},
		{func(c *Config) { c.ScaleFactor = 0 }, "scale_factor"},
		{func(c *Config) { c.Location = "" }, "location"},
		{func(c *Config) { c.RepoOwner = "" }, "repo_owner"},
		{func(c *Config) { c.RepoName = "" }, "repo_name"},
		{func(c *Config) { c.TableName = "" }, "table_name"},
		{func(c *Config) { c.DBHost = "" }, "db_host"},
		{func(c *Config) { c.DBPort = 0 }, "db_port"},
	}
	for _, m := range mutations {
		c := validConfig()
		m.mutate(&c)
		err := c.Validate()
		if err == nil {
			t.Errorf("expected validation failure mentioning %s, got nil", m.want)
			continue
		}
		if !strings.Contains(err.Error(), m.want) {
			t.Errorf("expected error to mention %s, got %q", m.want, err)
		}
	}
}

func TestInterval(t *testing.T) {
	c := Config{UploadIntervalSeconds: 90}
	if c.Interval() != 90*time.Second {
		t.Fatalf("expected 90s, got %v", c.Interval())
	}
}
