package progress

import (
	"sync"
	"testing"
)

func TestTrackerMergeUpdate(t *testing.T) {
	tracker := NewTracker()

	tracker.Set("t1", Update{Status: String("running"), TotalCount: Int(10)})
	tracker.Set("t1", Update{ProcessedCount: Int(4), SuccessCount: Int(3), FailedCount: Int(1)})

	snap, ok := tracker.Get("t1")
	if !ok {
		t.Fatal("快照应存在")
	}
	if snap.Status != "running" {
		t.Fatalf("合并更新不应覆盖未指定字段, status=%s", snap.Status)
	}
	if snap.TotalCount != 10 || snap.ProcessedCount != 4 {
		t.Fatalf("计数不正确: %+v", snap)
	}
	if snap.ProgressPercent != 40.0 {
		t.Fatalf("progress_percent 期望 40.0, 实际 %v", snap.ProgressPercent)
	}
}

func TestTrackerZeroTotalIsComplete(t *testing.T) {
	tracker := NewTracker()
	tracker.Set("t1", Update{TotalCount: Int(0), ProcessedCount: Int(7)})

	snap, _ := tracker.Get("t1")
	if snap.ProgressPercent != 100.0 {
		t.Fatalf("total<=0 时应为 100.0, 实际 %v", snap.ProgressPercent)
	}
}

func TestTrackerPercentRounding(t *testing.T) {
	tracker := NewTracker()
	tracker.Set("t1", Update{TotalCount: Int(3), ProcessedCount: Int(1)})

	snap, _ := tracker.Get("t1")
	if snap.ProgressPercent != 33.33 {
		t.Fatalf("期望 33.33, 实际 %v", snap.ProgressPercent)
	}
}

func TestTrackerUnknownTask(t *testing.T) {
	tracker := NewTracker()
	if _, ok := tracker.Get("missing"); ok {
		t.Fatal("未知任务不应返回快照")
	}
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tracker := NewTracker()
	tracker.Set("t1", Update{TotalCount: Int(1000)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				tracker.Set("t1", Update{ProcessedCount: Int(n)})
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				snap, ok := tracker.Get("t1")
				if ok && (snap.ProgressPercent < 0 || snap.ProgressPercent > 100) {
					t.Errorf("撕裂快照: %+v", snap)
					return
				}
			}
		}()
	}
	wg.Wait()
}
