package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint        string       `yaml:"endpoint"`
	Username        string       `yaml:"username"`
	Password        string       `yaml:"password"`
	SecurityMode    string       `yaml:"security_mode"`
	SecurityPolicy  string       `yaml:"security_policy"`
	ApplicationName string       `yaml:"application_name"`
	Buffer          int          `yaml:"buffer"`
	Nodes           []NodeConfig `yaml:"nodes"`
}

// NodeConfig binds one OPC UA node to one axis of a sensor.
type NodeConfig struct {
	NodeID string `yaml:"node_id"`
	Sensor string `yaml:"sensor"`
	// Axis is x/y/z, lat/lon/alt or value, depending on the sensor's shape.
	Axis string `yaml:"axis"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "SenseFlow"
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	for i := range c.Nodes {
		if c.Nodes[i].Axis == "" {
			c.Nodes[i].Axis = "value"
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	for _, n := range c.Nodes {
		sensor, err := domain.ParseSensorType(n.Sensor)
		if err != nil {
			return fmt.Errorf("node %q: %w", n.NodeID, err)
		}
		if !validAxis(sensor.Shape(), n.Axis) {
			return fmt.Errorf("node %q: axis %q does not fit sensor %s", n.NodeID, n.Axis, sensor)
		}
	}
	return nil
}

func validAxis(shape domain.Shape, axis string) bool {
	switch shape {
	case domain.ShapeVector3:
		return axis == "x" || axis == "y" || axis == "z"
	case domain.ShapePosition:
		return axis == "lat" || axis == "lon" || axis == "alt"
	default:
		return axis == "value"
	}
}

type binding struct {
	nodeID string
	sensor domain.SensorType
	axis   string
}

// sensorSub is the live subscription of one activated sensor. Readings are
// assembled from its axis nodes and emitted once every axis has reported.
type sensorSub struct {
	sub    *opcua.Subscription
	cancel context.CancelFunc
	done   chan struct{}
	axes   int
	values map[string]float64
}

// Source is a SensorSource reading sensors exposed as OPC UA nodes. Each
// activated sensor gets its own subscription whose publishing interval
// follows the requested frequency.
type Source struct {
	cfg      Config
	bindings map[domain.SensorType][]binding
	handles  map[uint32]binding
	events   chan domain.Sample

	mu     sync.Mutex
	client *opcua.Client
	subs   map[domain.SensorType]*sensorSub
}

func NewSource(cfg Config) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errs.WrapInvalid(err, "opcua", "NewSource", "validate config")
	}
	s := &Source{
		cfg:      cfg,
		bindings: make(map[domain.SensorType][]binding),
		handles:  make(map[uint32]binding),
		events:   make(chan domain.Sample, cfg.Buffer),
		subs:     make(map[domain.SensorType]*sensorSub),
	}
	for i, n := range cfg.Nodes {
		sensor, _ := domain.ParseSensorType(n.Sensor)
		b := binding{nodeID: n.NodeID, sensor: sensor, axis: n.Axis}
		s.bindings[sensor] = append(s.bindings[sensor], b)
		s.handles[uint32(i+1)] = b
	}
	return s, nil
}

// Connect opens the OPC UA session; sensors can be activated afterwards.
func (s *Source) Connect(ctx context.Context) error {
	client, err := opcua.NewClient(s.cfg.Endpoint, s.buildClientOptions()...)
	if err != nil {
		return errs.WrapFatal(err, "opcua", "Connect", "new client")
	}
	if err := client.Connect(ctx); err != nil {
		return errs.WrapTransient(err, "opcua", "Connect", "connect "+s.cfg.Endpoint)
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

func (s *Source) Activate(sensor domain.SensorType, frequency int) error {
	nodes := s.bindings[sensor]
	if len(nodes) == 0 {
		return errs.WrapInvalid(errs.ErrUnknownSensor, "opcua", "Activate", "lookup nodes for "+sensor.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return errs.WrapTransient(errs.ErrClosed, "opcua", "Activate", "use session")
	}
	if old, ok := s.subs[sensor]; ok {
		delete(s.subs, sensor)
		stopSub(old)
	}

	ctx, cancel := context.WithCancel(context.Background())
	notifyCh := make(chan *opcua.PublishNotificationData, len(nodes)*4)
	sub, err := s.client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: interval(frequency),
	}, notifyCh)
	if err != nil {
		cancel()
		return errs.WrapTransient(err, "opcua", "Activate", "subscribe "+sensor.String())
	}

	for handle, b := range s.handles {
		if b.sensor != sensor {
			continue
		}
		nodeID, err := ua.ParseNodeID(b.nodeID)
		if err != nil {
			cleanup(cancel, sub)
			return errs.WrapInvalid(err, "opcua", "Activate", "parse node id "+b.nodeID)
		}
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		req.RequestedParameters.SamplingInterval = float64(interval(frequency) / time.Millisecond)
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			cleanup(cancel, sub)
			return errs.WrapTransient(err, "opcua", "Activate", "monitor "+b.nodeID)
		}
		if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
			cleanup(cancel, sub)
			return errs.WrapFatal(fmt.Errorf("monitor node %q rejected", b.nodeID), "opcua", "Activate", "monitor "+b.nodeID)
		}
	}

	ss := &sensorSub{
		sub:    sub,
		cancel: cancel,
		done:   make(chan struct{}),
		axes:   len(nodes),
		values: make(map[string]float64, len(nodes)),
	}
	s.subs[sensor] = ss
	go s.consume(ctx, sensor, ss, notifyCh)
	return nil
}

// SetFrequency re-creates the subscription with the new publishing interval.
func (s *Source) SetFrequency(sensor domain.SensorType, frequency int) error {
	s.mu.Lock()
	_, ok := s.subs[sensor]
	s.mu.Unlock()
	if !ok {
		return errs.WrapInvalid(errs.ErrNotFound, "opcua", "SetFrequency", "lookup "+sensor.String())
	}
	return s.Activate(sensor, frequency)
}

func (s *Source) Deactivate(sensor domain.SensorType) error {
	s.mu.Lock()
	ss, ok := s.subs[sensor]
	delete(s.subs, sensor)
	s.mu.Unlock()
	if ok {
		stopSub(ss)
	}
	return nil
}

func (s *Source) PollNextEvent() (domain.Sample, bool) {
	select {
	case smp := <-s.events:
		return smp, true
	default:
		return domain.Sample{}, false
	}
}

// Close cancels every subscription and closes the session.
func (s *Source) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[domain.SensorType]*sensorSub)
	client := s.client
	s.client = nil
	s.mu.Unlock()

	for _, ss := range subs {
		stopSub(ss)
	}
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Source) consume(ctx context.Context, sensor domain.SensorType, ss *sensorSub, ch <-chan *opcua.PublishNotificationData) {
	defer close(ss.done)

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil || notif.Error != nil {
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, smp := range s.assemble(sensor, ss, data) {
				select {
				case s.events <- smp:
				default:
				}
			}
		}
	}
}

// assemble folds data changes into the sensor's axis values and returns one
// sample per change once every axis has a value.
func (s *Source) assemble(sensor domain.SensorType, ss *sensorSub, data *ua.DataChangeNotification) []domain.Sample {
	var out []domain.Sample
	for _, item := range data.MonitoredItems {
		b, ok := s.handles[item.ClientHandle]
		if !ok || b.sensor != sensor || item.Value == nil {
			continue
		}
		fv, ok := variantToFloat(item.Value.Value)
		if !ok {
			continue
		}
		ss.values[b.axis] = fv
		if len(ss.values) < ss.axes {
			continue
		}

		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		if ts.IsZero() {
			ts = time.Now()
		}
		out = append(out, domain.Sample{
			Sensor:    sensor,
			Timestamp: ts,
			Reading:   domain.ReadingFromValues(sensor.Shape(), ss.values),
		})
	}
	return out
}

func (s *Source) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(s.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(s.cfg.SecurityPolicy)),
		opcua.ApplicationName(s.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}

	if s.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(s.cfg.Username, s.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func interval(frequency int) time.Duration {
	if frequency <= 0 {
		frequency = 1
	}
	return time.Second / time.Duration(frequency)
}

func stopSub(ss *sensorSub) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ss.sub.Cancel(ctx)
	ss.cancel()
	<-ss.done
}

func cleanup(cancel context.CancelFunc, sub *opcua.Subscription) {
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = sub.Cancel(ctx)
	cancel()
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.SensorSource = (*Source)(nil)
