package monitor

import (
	"time"

	"github.com/pkg/errors"
)

// Config holds the initialization parameters for the logger.  It is populated
// once at startup from the yaml file and never mutated afterwards.
type Config struct {
	// PortDevice is the filesystem address of the sensor's serial port,
	// e.g. /dev/ttyUSB0
	PortDevice string `yaml:"port_device" koanf:"port_device"`

	// UploadIntervalSeconds is the period of the read-decode-upload cycle
	UploadIntervalSeconds int `yaml:"upload_interval_seconds" koanf:"upload_interval_seconds"`

	// SampleCount is how many frames are averaged into one record.  The
	// sensor emits one frame per second, so this is also roughly how many
	// seconds a cycle spends reading.
	SampleCount int `yaml:"sample_count" koanf:"sample_count"`

	// ScaleFactor converts raw 16-bit fields to µg/m³, 10 per the datasheet
	ScaleFactor float64 `yaml:"scale_factor" koanf:"scale_factor"`

	// Location is stamped onto every record, e.g. "back porch"
	Location string `yaml:"location" koanf:"location"`

	// SensorID is stamped onto every record
	SensorID int `yaml:"sensor_id" koanf:"sensor_id"`

	// RepoOwner, RepoName and TableName address the upload target,
	// "owner/repo"."table" on bit.io
	RepoOwner string `yaml:"repo_owner" koanf:"repo_owner"`
	RepoName  string `yaml:"repo_name" koanf:"repo_name"`
	TableName string `yaml:"table_name" koanf:"table_name"`

	// DBHost and DBPort locate the Postgres endpoint
	DBHost string `yaml:"db_host" koanf:"db_host"`
	DBPort int    `yaml:"db_port" koanf:"db_port"`

	// MetricsAddr, if nonempty, serves prometheus metrics on this address,
	// e.g. ":9100"
	MetricsAddr string `yaml:"metrics_addr" koanf:"metrics_addr"`
}

// Validate checks that every required field is populated and in range.  It is
// run once at startup; a failure there is fatal to the process.
func (c Config) Validate() error {
	switch {
	case c.PortDevice == "":
		return errors.New("config: port_device is required")
	case c.UploadIntervalSeconds <= 0:
		return errors.New("config: upload_interval_seconds must be positive")
	case c.SampleCount <= 0:
		return errors.New("config: sample_count must be positive")
	case c.ScaleFactor <= 0:
		return errors.New("config: scale_factor must be positive")
	case c.Location == "":
		return errors.New("config: location is required")
	case c.RepoOwner == "":
		return errors.New("config: repo_owner is required")
	case c.RepoName == "":
		return errors.New("config: repo_name is required")
	case c.TableName == "":
		return errors.New("config: table_name is required")
	case c.DBHost == "":
		return errors.New("config: db_host is required")
	case c.DBPort <= 0:
		return errors.New("config: db_port must be positive")
	}
	return nil
}

// Interval returns the cycle period as a duration
func (c Config) Interval() time.Duration {
	return time.Duration(c.UploadIntervalSeconds) * time.Second
}
