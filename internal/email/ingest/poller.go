package ingest

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/redis/go-redis/v9"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/crypto"
	"github.com/sgunadhya/oxidesk/internal/pkg/distlock"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// minLockTTL floors the poll lock so a slow IMAP fetch is not stolen
// mid-flight.
const minLockTTL = 60 * time.Second

// Poller fetches new mail for every configured inbox on a timer. The lock
// `email-poll:<inboxId>` elects one poller per inbox across processes.
type Poller struct {
	store  store.Store
	proc   *Processor
	sealer *crypto.Sealer
	redis  *redis.Client // optional; lease lock fallback without it

	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPoller creates the inbox poller. redisClient may be nil.
func NewPoller(st store.Store, proc *Processor, sealer *crypto.Sealer, redisClient *redis.Client, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = domain.DefaultPollInterval
	}
	return &Poller{store: st, proc: proc, sealer: sealer, redis: redisClient, interval: interval}
}

// Start launches the poll loop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.run(ctx)
	logger.Info("[EmailPoller] started", "interval", p.interval.String())
}

// Stop halts the loop and waits for an in-flight poll.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
	logger.Info("[EmailPoller] stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	configs, err := p.store.ListInboxConfigs(ctx)
	if err != nil {
		logger.Error("[EmailPoller] list inbox configs failed", "error", err)
		return
	}
	for i := range configs {
		p.pollInbox(ctx, &configs[i])
	}
}

// pollInbox fetches one inbox under its lock. Losing the lock race means
// another process is already polling this inbox.
func (p *Poller) pollInbox(ctx context.Context, cfg *domain.InboxConfig) {
	interval := p.interval
	if cfg.PollIntervalSeconds > 0 {
		interval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	}
	ttl := 2 * interval
	if ttl < minLockTTL {
		ttl = minLockTTL
	}
	lock := distlock.NewLock(p.redis, p.store, "email-poll:"+cfg.InboxID, ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("[EmailPoller] lock acquire failed", "inbox_id", cfg.InboxID, "error", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Error("[EmailPoller] lock release failed", "inbox_id", cfg.InboxID, "error", err)
		}
	}()

	if err := p.fetch(ctx, cfg); err != nil {
		logger.Error("[EmailPoller] poll failed", "inbox_id", cfg.InboxID, "error", err)
	}
}

// fetch pulls new mail since the inbox cursor and advances it. The cursor
// moves even when individual emails fail; failures are already logged per
// email and will not be re-fetched.
func (p *Poller) fetch(ctx context.Context, cfg *domain.InboxConfig) error {
	password, err := p.sealer.Open(cfg.IMAPPasswordEnc)
	if err != nil {
		return fmt.Errorf("decrypt imap password: %w", err)
	}

	addr := net.JoinHostPort(cfg.IMAPHost, strconv.Itoa(cfg.IMAPPort))
	var c *client.Client
	if cfg.IMAPUseTLS {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Logout()

	if err := c.Login(cfg.IMAPUsername, password); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, true); err != nil {
		return fmt.Errorf("select %s: %w", folder, err)
	}

	criteria := imap.NewSearchCriteria()
	switch {
	case cfg.LastUID > 0:
		set := new(imap.SeqSet)
		set.AddRange(cfg.LastUID+1, 0)
		criteria.Uid = set
	case cfg.LastPollAt != nil:
		criteria.Since = *cfg.LastPollAt
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("uid search: %w", err)
	}
	if len(uids) == 0 {
		return p.store.UpdateInboxCursor(ctx, cfg.InboxID, time.Now().UTC(), cfg.LastUID)
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(set, items, messages)
	}()

	maxUID := cfg.LastUID
	var processed int
	for msg := range messages {
		if msg.Uid > maxUID {
			maxUID = msg.Uid
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		pe, err := Parse(body)
		if err != nil {
			logger.Error("[EmailPoller] unparseable email skipped",
				"inbox_id", cfg.InboxID, "uid", msg.Uid, "error", err)
			continue
		}
		if err := p.proc.ProcessEmail(ctx, cfg.InboxID, pe); err != nil {
			logger.Error("[EmailPoller] email processing failed",
				"inbox_id", cfg.InboxID, "message_id", pe.MessageID, "error", err)
			continue
		}
		processed++
	}
	if err := <-done; err != nil {
		return fmt.Errorf("uid fetch: %w", err)
	}

	if processed > 0 {
		logger.Info("[EmailPoller] poll complete",
			"inbox_id", cfg.InboxID, "fetched", len(uids), "processed", processed)
	}
	return p.store.UpdateInboxCursor(ctx, cfg.InboxID, time.Now().UTC(), maxUID)
}
