package gistvacuum

import (
	"context"
	"time"

	"github.com/juju/errors"
)

// DelayPoint 扫描在两个页面之间调用，调用时不持有任何页面锁
type DelayPoint interface {
	Delay(ctx context.Context) error
	AccountPage(dirtied bool)
}

// CostDelay 基于代价的限速：累计代价达到上限后休眠一段时间
type CostDelay struct {
	Sleep     time.Duration // 为0时不休眠
	Limit     int
	PageHit   int
	PageDirty int

	balance int
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewCostDelay(sleep time.Duration, limit, pageHit, pageDirty int) *CostDelay {
	if limit <= 0 {
		limit = 200
	}
	return &CostDelay{
		Sleep:     sleep,
		Limit:     limit,
		PageHit:   pageHit,
		PageDirty: pageDirty,
		sleep:     sleepContext,
	}
}

func (d *CostDelay) AccountPage(dirtied bool) {
	d.balance += d.PageHit
	if dirtied {
		d.balance += d.PageDirty
	}
}

func (d *CostDelay) Delay(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	if d.Sleep <= 0 || d.balance < d.Limit {
		return nil
	}
	pause := d.Sleep * time.Duration(d.balance) / time.Duration(d.Limit)
	if pause > 4*d.Sleep {
		pause = 4 * d.Sleep
	}
	d.balance = 0
	return errors.Trace(d.sleep(ctx, pause))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
