// Package kafkaio implements the Kafka outbound adapter (spec §4.1 domain
// stack enrichment, AdapterConfig.Kind == "kafka"), wiring a message
// produced by an Outbound Operation host onto a Kafka topic.
//
// Grounded on the teacher's internal/sinks/kafka_sink.go: sarama config
// construction (compression/partitioner/SASL selection), the
// XDGSCRAMClient from internal/sinks/kafka_scram.go for SCRAM-SHA-256/512
// auth, and the circuit-breaker-wrapped send the teacher calls around
// every batch. Generalized from the teacher's async, batched LogEntry
// producer to a synchronous per-envelope SyncProducer, since an Outbound
// Operation's Send call is one envelope in, one ack out — there is no
// batching boundary to amortize here.
package kafkaio

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/xdg-go/scram"

	"github.com/hie-engine/runtime-core/pkg/circuit_breaker"
	"github.com/hie-engine/runtime-core/pkg/secrets"
	"github.com/hie-engine/runtime-core/pkg/types"
)

var (
	sha256Generator scram.HashGeneratorFcn = sha256.New
	sha512Generator scram.HashGeneratorFcn = sha512.New
)

// xdgSCRAMClient implements sarama.SCRAMClient via xdg-go/scram, the same
// bridge the teacher's kafka_scram.go wires for AsyncProducer auth.
type xdgSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *xdgSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *xdgSCRAMClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

func (x *xdgSCRAMClient) Done() bool { return x.ClientConversation.Done() }

// Config configures the Kafka outbound adapter from the adapter.* settings
// sub-tree.
type Config struct {
	Brokers []string
	Topic   string
	Auth    types.KafkaAuthConfig

	CircuitBreaker circuit_breaker.Config
}

// FromAdapterConfig builds Config from the generic AdapterConfig sub-tree.
func FromAdapterConfig(cfg types.AdapterConfig) Config {
	return Config{Brokers: cfg.Brokers, Topic: cfg.Topic, Auth: cfg.Auth}
}

// Outbound produces each envelope's raw bytes onto a Kafka topic,
// authenticating via SASL/SCRAM when configured and gating sends through a
// circuit breaker so a down broker stops being hammered.
type Outbound struct {
	cfg     Config
	logger  *logrus.Logger
	secrets secrets.SecretManager
	breaker types.CircuitBreaker

	producer sarama.SyncProducer
}

// NewOutbound builds a Kafka producer adapter from cfg. secretManager may
// be nil when Auth.Enabled is false.
func NewOutbound(cfg Config, secretManager secrets.SecretManager, logger *logrus.Logger) *Outbound {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Outbound{
		cfg:     cfg,
		logger:  logger,
		secrets: secretManager,
		breaker: circuit_breaker.New(cfg.CircuitBreaker),
	}
}

func (out *Outbound) Connect(ctx context.Context) error {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	if out.cfg.Auth.Enabled {
		password := out.cfg.Auth.SecretRef
		if out.secrets != nil {
			resolved, err := out.secrets.GetSecret(ctx, out.cfg.Auth.SecretRef)
			if err != nil {
				return fmt.Errorf("kafkaio: resolve auth secret: %w", err)
			}
			password = resolved
		}

		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = out.cfg.Auth.Username
		saramaCfg.Net.SASL.Password = password
		saramaCfg.Net.SASL.Handshake = true

		switch out.cfg.Auth.Mechanism {
		case "SCRAM-SHA-512":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha512Generator}
			}
		default:
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha256Generator}
			}
		}
	}

	producer, err := sarama.NewSyncProducer(out.cfg.Brokers, saramaCfg)
	if err != nil {
		return fmt.Errorf("kafkaio: new producer: %w", err)
	}

	out.producer = producer
	out.logger.WithFields(logrus.Fields{
		"component": "kafka_outbound",
		"brokers":   out.cfg.Brokers,
		"topic":     out.cfg.Topic,
	}).Info("kafka producer connected")
	return nil
}

func (out *Outbound) Disconnect(ctx context.Context) error {
	if out.producer == nil {
		return nil
	}
	err := out.producer.Close()
	out.producer = nil
	return err
}

func (out *Outbound) Send(ctx context.Context, raw []byte) ([]byte, error) {
	if out.producer == nil {
		return nil, fmt.Errorf("kafkaio: not connected")
	}

	msg := &sarama.ProducerMessage{
		Topic: out.cfg.Topic,
		Value: sarama.ByteEncoder(raw),
	}

	var partition int32
	var offset int64
	err := out.breaker.Execute(func() error {
		var sendErr error
		partition, offset, sendErr = out.producer.SendMessage(msg)
		return sendErr
	})
	if err != nil {
		return nil, fmt.Errorf("kafkaio: send: %w", err)
	}

	return []byte(fmt.Sprintf("partition=%d offset=%d", partition, offset)), nil
}
