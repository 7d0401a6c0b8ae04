/*
Package monitor contains the machinery for the periodic logging loop.

It reads a sample of frames from the sensor every <interval>, averages them
into one record stamped with the wall clock and the configured metadata, and
appends the record to the remote table.  Any failure inside a cycle is logged
and the loop goes back to waiting for the next tick; a dropped record is
dropped for good.  Nothing in a cycle can take the process down.
*/
package monitor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/airq/airlog/bitio"
	"github.com/airq/airlog/sds011"
)

// uploadTimeout bounds one insert so a wedged connection cannot stall the
// loop past its own interval
const uploadTimeout = 30 * time.Second

// metrics exposed to prometheus
var (
	gaugePM25 = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airlog_pm2_5_micrograms",
		Help: "Last PM2.5 concentration (units: µg/m³)",
	})
	gaugePM10 = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airlog_pm10_micrograms",
		Help: "Last PM10 concentration (units: µg/m³)",
	})
	counterUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airlog_uploads_total",
		Help: "Records successfully appended to the remote table",
	})
	counterUploadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airlog_upload_failures_total",
		Help: "Records dropped because the insert failed",
	})
	counterReadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airlog_read_failures_total",
		Help: "Cycles skipped because the sensor read failed",
	})
	counterChecksumSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airlog_checksum_skips_total",
		Help: "Cycles skipped because a frame failed its checksum",
	})
)

func init() {
	prometheus.MustRegister(gaugePM25)
	prometheus.MustRegister(gaugePM10)
	prometheus.MustRegister(counterUploads)
	prometheus.MustRegister(counterUploadFailures)
	prometheus.MustRegister(counterReadFailures)
	prometheus.MustRegister(counterChecksumSkips)
}

// FrameReader produces raw sensor frames
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// Inserter appends one record to the remote table
type Inserter interface {
	Insert(ctx context.Context, r bitio.Record) error
}

// Monitor runs the read-decode-upload cycle on a fixed interval
type Monitor struct {
	cfg      Config
	sensor   FrameReader
	uploader Inserter
	dec      sds011.Decoder
	ticker   *time.Ticker
	stop     chan struct{}
}

// New creates a new Monitor.  cfg must already be validated.
func New(cfg Config, sensor FrameReader, uploader Inserter) (*Monitor, error) {
	dec, err := sds011.NewDecoder(cfg.ScaleFactor)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:      cfg,
		sensor:   sensor,
		uploader: uploader,
		dec:      dec,
		stop:     make(chan struct{})}, nil
}

// Start triggers operation of the monitor
func (m *Monitor) Start() {
	m.ticker = time.NewTicker(m.cfg.Interval())
	go m.runner()
}

// Stop kills the monitor.  It may be restarted.
func (m *Monitor) Stop() {
	m.stop <- struct{}{}
}

func (m *Monitor) runner() {
	for {
		select {
		case <-m.ticker.C:
			m.cycle()
		case <-m.stop:
			m.ticker.Stop()
			return
		}
	}
}

// cycle is one full read-decode-upload pass.  It never returns an error;
// every failure mode is logged here and the loop goes idle until the next
// tick.
func (m *Monitor) cycle() {
	rec, ok := m.sample()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	err := m.uploader.Insert(ctx, rec)
	if err != nil {
		counterUploadFailures.Inc()
		log.Errorf("upload failed, record dropped: %s", err)
		return
	}
	counterUploads.Inc()
	gaugePM25.Set(rec.PM25)
	gaugePM10.Set(rec.PM10)
	log.Infof("record uploaded: %s %s sensor=%d PM2.5=%.1f PM10=%.1f",
		rec.Time.Format(time.RFC3339), rec.Location, rec.SensorID, rec.PM25, rec.PM10)
}

// sample reads SampleCount frames and folds them into one record.  A failed
// checksum or a dead sensor voids the whole sample; no partial record is ever
// produced.
func (m *Monitor) sample() (bitio.Record, bool) {
	var (
		rec   bitio.Record
		sum25 float64
		sum10 float64
	)
	n := m.cfg.SampleCount
	for i := 0; i < n; i++ {
		frame, err := m.sensor.ReadFrame()
		if err != nil {
			counterReadFailures.Inc()
			log.Errorf("sensor read failed: %s", err)
			return rec, false
		}
		pt, err := m.dec.Decode(frame)
		if err != nil {
			if errors.Is(err, sds011.ErrChecksumMismatch) {
				// expected noise on the UART, not worth an error
				counterChecksumSkips.Inc()
				log.Warnf("frame failed checksum, skipping cycle")
				return rec, false
			}
			log.Errorf("frame decode failed: %s", err)
			return rec, false
		}
		sum25 += pt.PM25
		sum10 += pt.PM10
	}
	rec = bitio.Record{
		Time:     time.Now().UTC(),
		Location: m.cfg.Location,
		SensorID: m.cfg.SensorID,
		PM25:     sum25 / float64(n),
		PM10:     sum10 / float64(n),
	}
	return rec, true
}
