// Package opcua subscribes to the tensile tester's PLC tags and turns data
// change notifications into channel samples.
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

	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

var _ ports.Collector = (*Collector)(nil)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps one monitored tag onto a channel.
type NodeConfig struct {
	NodeID  string `yaml:"node_id"`
	Channel string `yaml:"channel"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "TensileFlow Bench"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 50 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	seen := make(map[string]string, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.NodeID == "" || n.Channel == "" {
			return fmt.Errorf("node %q: node_id and channel are required", n.NodeID)
		}
		if prev, ok := seen[n.Channel]; ok {
			return fmt.Errorf("channel %q is fed by both %q and %q", n.Channel, prev, n.NodeID)
		}
		seen[n.Channel] = n.NodeID
	}
	return nil
}

// Channels lists the channels the collector produces.
func (c *Config) Channels() []string {
	out := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		out[i] = n.Channel
	}
	return out
}

type Collector struct {
	cfg Config
	obs ports.Observability
	now func() time.Time

	mu      sync.Mutex
	client  *opcua.Client
	sub     *opcua.Subscription
	cancel  context.CancelFunc
	handles map[uint32]NodeConfig
	seq     map[string]uint64
	started bool
	wg      sync.WaitGroup
}

func NewCollector(cfg Config, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		return nil, errors.New("observability is required")
	}
	return &Collector{cfg: cfg, obs: obs, now: time.Now, seq: make(map[string]uint64)}, nil
}

func (c *Collector) Start(out chan<- *domain.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("opcua collector already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := opcua.NewClient(c.cfg.Endpoint, c.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notify := make(chan *opcua.PublishNotificationData, len(c.cfg.Nodes)*16)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: c.cfg.PublishInterval}, notify)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handles, err := c.monitor(ctx, sub)
	if err != nil {
		cancel()
		_ = sub.Cancel(ctx)
		_ = client.Close(ctx)
		return err
	}

	c.client, c.sub, c.cancel, c.handles = client, sub, cancel, handles
	c.started = true
	c.obs.LogInfo("opcua_subscribed",
		ports.Field{Key: "endpoint", Value: c.cfg.Endpoint},
		ports.Field{Key: "channels", Value: strings.Join(c.cfg.Channels(), ",")})

	c.wg.Add(1)
	go c.consume(ctx, notify, out)
	return nil
}

// monitor registers every node in one request. Client handles are the node
// index plus one.
func (c *Collector) monitor(ctx context.Context, sub *opcua.Subscription) (map[uint32]NodeConfig, error) {
	reqs := make([]*ua.MonitoredItemCreateRequest, len(c.cfg.Nodes))
	handles := make(map[uint32]NodeConfig, len(c.cfg.Nodes))
	for i, node := range c.cfg.Nodes {
		id, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
		if c.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval / time.Millisecond)
		}
		reqs[i] = req
		handles[handle] = node
	}

	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, reqs...)
	if err != nil {
		return nil, fmt.Errorf("monitor nodes: %w", err)
	}
	if len(res.Results) != len(reqs) {
		return nil, fmt.Errorf("monitor nodes: got %d results for %d nodes", len(res.Results), len(reqs))
	}
	for i, r := range res.Results {
		if r.StatusCode != ua.StatusOK {
			return nil, fmt.Errorf("monitor node %q: %s", c.cfg.Nodes[i].NodeID, r.StatusCode)
		}
	}
	return handles, nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel, sub, client := c.cancel, c.sub, c.client
	c.started = false
	c.cancel, c.sub, c.client = nil, nil, nil
	c.mu.Unlock()

	cancel()
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	var err error
	if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- *domain.Sample) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ch:
			if n == nil {
				continue
			}
			if n.Error != nil {
				c.obs.LogError("opcua_notification_failed", n.Error)
				continue
			}
			data, ok := n.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range data.MonitoredItems {
				s, ok := c.toSample(item)
				if !ok {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- s:
				}
			}
		}
	}
}

// toSample converts one monitored item. Samples are stamped on receipt with
// the host clock, the same clock that bounds recorded sessions; the PLC's own
// timestamps may be skewed from it.
func (c *Collector) toSample(item *ua.MonitoredItemNotification) (*domain.Sample, bool) {
	node, ok := c.handles[item.ClientHandle]
	if !ok || item.Value == nil {
		return nil, false
	}
	v, ok := variantToFloat(item.Value.Value)
	if !ok {
		c.obs.LogError("opcua_unsupported_value", fmt.Errorf("type %T", item.Value.Value),
			ports.Field{Key: "node_id", Value: node.NodeID})
		return nil, false
	}
	return &domain.Sample{
		Channel:      node.Channel,
		Timestamp:    c.now(),
		Seq:          c.nextSeq(node.Channel),
		Value:        v,
		SourceNodeID: node.NodeID,
	}, true
}

func (c *Collector) nextSeq(ch string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq[ch]++
	return c.seq[ch]
}

func (c *Collector) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(c.cfg.SecurityPolicy),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if c.cfg.Username != "" {
		return append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	}
	return append(opts, opcua.AuthAnonymous())
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
	switch strings.ToLower(strings.NewReplacer("_", "", "+", "", " ", "").Replace(mode)) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}
