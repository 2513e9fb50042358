package usecase

import (
	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/port"
	"github.com/Shinox-lab/dashboard/internal/modules/relay/domain"
)

// StatusUseCase assembles the read-only relay status. It has no side effects.
type StatusUseCase struct {
	registry port.ClientRegistry
	topics   *TopicManager
	broker   string
}

func NewStatusUseCase(registry port.ClientRegistry, topics *TopicManager, brokerAddress string) *StatusUseCase {
	return &StatusUseCase{registry: registry, topics: topics, broker: brokerAddress}
}

func (uc *StatusUseCase) Execute() domain.RelayStatus {
	return domain.RelayStatus{
		KafkaBroker:      uc.broker,
		ConnectedClients: uc.registry.Count(),
		MonitoredTopics:  uc.topics.Topics(),
		DegradedTopics:   uc.topics.DegradedTopics(),
		FeedsOpened:      uc.topics.FeedCount(),
	}
}

// Topics exposes per-topic detail for the stats endpoint.
func (uc *StatusUseCase) Topics() []domain.TopicStatus {
	return uc.topics.Status()
}
