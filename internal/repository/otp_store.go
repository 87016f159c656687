package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OtpKeyPrefix namespaces password-reset codes in Redis.
const OtpKeyPrefix = "password_reset_otp:"

// OtpTTL is how long an issued code stays valid.
const OtpTTL = 10 * time.Minute

// OtpOutcome is the result of presenting a code.
type OtpOutcome int

const (
	OtpExpiredOrAbsent OtpOutcome = iota
	OtpMismatch
	OtpAccepted
)

func (o OtpOutcome) String() string {
	switch o {
	case OtpAccepted:
		return "accepted"
	case OtpMismatch:
		return "mismatch"
	default:
		return "expired_or_absent"
	}
}

// takeScript compares and deletes in one step so a code can be accepted at
// most once.  Records older than the TTL are dropped even if Redis has not
// evicted them yet.
//
// returns 0 = expired or absent, 1 = mismatch, 2 = accepted
var takeScript = redis.NewScript(`
	local code = redis.call('HGET', KEYS[1], 'otp')
	if not code then
		return 0
	end
	local created = tonumber(redis.call('HGET', KEYS[1], 'created_at'))
	local ttl = tonumber(redis.call('HGET', KEYS[1], 'ttl'))
	if created and ttl and (tonumber(ARGV[2]) - created) >= ttl then
		redis.call('DEL', KEYS[1])
		return 0
	end
	if code ~= ARGV[1] then
		return 1
	end
	redis.call('DEL', KEYS[1])
	return 2
`)

// OtpStore keeps at most one live reset code per email.
type OtpStore struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewOtpStore(rdb redis.Cmdable) *OtpStore {
	return &OtpStore{rdb: rdb, now: time.Now}
}

func otpKey(email string) string { return OtpKeyPrefix + NormalizeEmail(email) }

// Put replaces any previous record for email in a single MULTI block.
func (s *OtpStore) Put(ctx context.Context, email, code string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = OtpTTL
	}
	key := otpKey(email)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"email", NormalizeEmail(email),
			"otp", code,
			"created_at", s.now().Unix(),
			"ttl", int64(ttl/time.Second))
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("otp put: %w", err)
	}
	return nil
}

// Take consumes the code for email if it matches.
func (s *OtpStore) Take(ctx context.Context, email, code string) (OtpOutcome, error) {
	res, err := takeScript.Run(ctx, s.rdb, []string{otpKey(email)}, code, s.now().Unix()).Int()
	if err != nil {
		return OtpExpiredOrAbsent, fmt.Errorf("otp take: %w", err)
	}
	return OtpOutcome(res), nil
}
