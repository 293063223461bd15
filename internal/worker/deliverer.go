package worker

import (
	"context"
	"encoding/json"
	"time"

	"RecurringEvents/internal/dispatch"
	"RecurringEvents/internal/domain"
	"RecurringEvents/internal/lease"
	"RecurringEvents/internal/queue"
	"RecurringEvents/internal/repo"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// HandlerFunc 事件投递协作方：接收合并后的消息并返回成功/失败。
// 其内部的重试与退避策略不在本核心范围内。
type HandlerFunc func(ctx context.Context, msg dispatch.Message) error

// LogHandler 缺省协作方实现：仅记录事件。实际部署时替换为真正的
// 下游投递实现。
func LogHandler(log zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, msg dispatch.Message) error {
		log.Info().
			Str("firing", msg.FiringID.String()).
			Str("event_type", msg.EventType).
			Str("organization", msg.OrganizationID.String()).
			Time("occurred_at", msg.OccurredAt).
			RawJSON("payload", msg.Payload).
			Msg("event delivered")
		return nil
	}
}

// Deliverer 投递 worker：阻塞消费就绪队列，按条抢投递租约后交给
// 协作方处理；失败按指数退避进延时队列，重试耗尽进死信队列
type Deliverer struct {
	rdb      *redis.Client
	firings  *repo.FiringStore
	leases   *lease.Manager
	handler  HandlerFunc
	log      zerolog.Logger
	workerID string
	queues   []string
	leaseTTL time.Duration
}

func NewDeliverer(rdb *redis.Client, firings *repo.FiringStore, handler HandlerFunc, workerID string, queues []string, log zerolog.Logger) *Deliverer {
	return &Deliverer{
		rdb:      rdb,
		firings:  firings,
		leases:   lease.NewManager(rdb),
		handler:  handler,
		log:      log,
		workerID: workerID,
		queues:   queues,
		leaseTTL: 30 * time.Second,
	}
}

// Run 阻塞消费，直到 ctx 取消。BLPOP 带短超时，保证能响应取消。
func (d *Deliverer) Run(ctx context.Context) {
	keys := make([]string, 0, len(d.queues))
	for _, q := range d.queues {
		keys = append(keys, queue.ReadyKey(q))
	}
	d.log.Info().Str("worker", d.workerID).Strs("queues", d.queues).Msg("deliverer started")

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("deliverer stopped")
			return
		default:
		}
		res, err := d.rdb.BLPop(ctx, 5*time.Second, keys...).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			d.log.Error().Err(err).Msg("blpop failed")
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}
		d.handle(ctx, keyToQueueName(res[0]), res[1])
	}
}

func keyToQueueName(readyKey string) string {
	// "queue:{name}:ready"
	if len(readyKey) > len("queue:")+len(":ready") {
		return readyKey[len("queue:") : len(readyKey)-len(":ready")]
	}
	return readyKey
}

// handle 处理一条投递消息
func (d *Deliverer) handle(ctx context.Context, queueName, raw string) {
	var msg dispatch.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		d.log.Error().Err(err).Msg("bad delivery message, dropped")
		return
	}

	// 抢投递租约，拿不到说明别的 worker 在处理
	got, err := d.leases.Acquire(ctx, msg.FiringID.String(), d.workerID, d.leaseTTL)
	if err != nil {
		d.log.Error().Err(err).Str("firing", msg.FiringID.String()).Msg("acquire lease failed")
		return
	}
	if !got {
		return
	}
	defer func() {
		_, _ = d.leases.Release(ctx, msg.FiringID.String(), d.workerID)
	}()

	if err := d.firings.MarkDelivering(ctx, msg.FiringID, d.workerID, time.Now()); err != nil {
		d.log.Error().Err(err).Str("firing", msg.FiringID.String()).Msg("mark delivering failed")
	}

	// 续租协程，覆盖长时间的投递
	renewCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		tk := time.NewTicker(d.leaseTTL / 3)
		defer tk.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-tk.C:
				_, _ = d.leases.Renew(ctx, msg.FiringID.String(), d.workerID, d.leaseTTL)
			}
		}
	}()

	if err := d.handler(ctx, msg); err != nil {
		d.deliveryFailed(ctx, queueName, msg, err)
		return
	}

	if err := d.firings.MarkDelivered(ctx, msg.FiringID, time.Now()); err != nil {
		d.log.Error().Err(err).Str("firing", msg.FiringID.String()).Msg("mark delivered failed")
	}
	_ = d.rdb.Incr(ctx, "metrics:worker:"+queueName+":delivered").Err()
}

// retryDelay 第 attempt 次失败后的退避时长，指数递增。
// attempt 小于 1 的消息（外部重放或损坏的 JSON）按 1 处理，避免负位移
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<(attempt-1)) * 5 * time.Second
}

// deliveryFailed 失败路径：指数退避重试，耗尽后进死信队列
func (d *Deliverer) deliveryFailed(ctx context.Context, queueName string, msg dispatch.Message, cause error) {
	failInfo := map[string]any{
		"reason":    cause.Error(),
		"attempt":   msg.Attempt,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if msg.Attempt >= msg.MaxAttempts {
		if err := d.firings.MarkFailed(ctx, msg.FiringID, domain.FiringDead, failInfo); err != nil {
			d.log.Error().Err(err).Str("firing", msg.FiringID.String()).Msg("mark dead failed")
		}
		dead := struct {
			dispatch.Message
			Error map[string]any `json:"error"`
		}{Message: msg, Error: failInfo}
		b, _ := json.Marshal(dead)
		if err := queue.EnqueueDLQ(ctx, d.rdb, queueName, string(b)); err != nil {
			d.log.Error().Err(err).Str("firing", msg.FiringID.String()).Msg("enqueue dlq failed")
		}
		_ = d.rdb.Incr(ctx, "metrics:worker:"+queueName+":dead").Err()
		d.log.Warn().Str("firing", msg.FiringID.String()).Int("attempt", msg.Attempt).Msg("delivery moved to DLQ")
		return
	}

	if err := d.firings.MarkFailed(ctx, msg.FiringID, domain.FiringFailed, failInfo); err != nil {
		d.log.Error().Err(err).Str("firing", msg.FiringID.String()).Msg("mark failed failed")
	}

	// 新的投递记录（attempt+1），按指数退避进延时队列
	retry := domain.EventFiring{
		ID:               uuid.New(),
		ScheduledEventID: msg.ScheduledEventID,
		OccurredAt:       msg.OccurredAt,
		Attempt:          msg.Attempt + 1,
		Status:           domain.FiringQueued,
	}
	if err := d.firings.Insert(ctx, &retry); err != nil {
		d.log.Error().Err(err).Str("firing", msg.FiringID.String()).Msg("insert retry firing failed")
		return
	}

	next := msg
	next.FiringID = retry.ID
	next.Attempt = retry.Attempt
	b, _ := json.Marshal(next)

	at := time.Now().Add(retryDelay(msg.Attempt))
	if err := queue.EnqueueDelayed(ctx, d.rdb, queueName, string(b), at); err != nil {
		d.log.Error().Err(err).Str("firing", retry.ID.String()).Msg("enqueue delayed failed")
		return
	}
	_ = d.rdb.Incr(ctx, "metrics:worker:"+queueName+":retried").Err()
	d.log.Warn().
		Str("firing", retry.ID.String()).
		Int("attempt", retry.Attempt).
		Time("retry_at", at).
		Msg("delivery failed, retry scheduled")
}
