package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/opdacuont2563-hash/surgibot/announce"
	"github.com/opdacuont2563-hash/surgibot/job"
)

// Announcer gates spoken announcements. *announce.Throttler satisfies it.
type Announcer interface {
	Offer(ev announce.Event) (announce.Decision, error)
}

const (
	postponedRepeat = 2
	postponedGap    = 8 * time.Second

	publicSubject = "public"
)

const (
	publicAnnouncementTH = "ท่านใดที่ต้องการเดินทางไปยังจุดอื่นหรือไม่ได้อยู่ที่จุดรอผ่าตัดนี้ " +
		"ท่านสามารถสแกนคิวอาร์โค้ดที่แสดงที่หน้าจอเพื่อติดตามสถานะการผ่าตัดแบบเรียลไทม์ออนไลน์ได้ตลอดเวลา " +
		"โดยติดตามจากรหัสผู้ป่วยที่ท่านได้รับไปค่ะ ขอบคุณค่ะ"
	publicAnnouncementEN = "If you need to go to another area or cannot remain in this surgical waiting area, " +
		"please scan the QR code on the screen to follow the surgery status in real time. " +
		"Use the patient code you were given. Thank you."
)

// statusEvent builds the bilingual announcement for a status change.
// A postponed status becomes the longer relatives-call announcement that
// repeats twice with a gap, reading the patient code digit by digit.
func statusEvent(pid string, status Status) announce.Event {
	if status == StatusPostponed {
		return postponedEvent(pid)
	}

	th := fmt.Sprintf("สถานะของผู้ป่วยรหัส %s ขณะนี้อยู่ที่ %s", pid, status)

	var en string
	switch status.English() {
	case "in surgery", "in recovery":
		en = fmt.Sprintf("The status of patient ID %s is now %s.", pid, status.English())
	case "waiting for surgery":
		en = fmt.Sprintf("Patient ID %s is now waiting for surgery.", pid)
	case "recovery complete":
		en = fmt.Sprintf("Patient ID %s has completed recovery.", pid)
	case "being transferred back to the ward":
		en = fmt.Sprintf("Patient ID %s is being transferred back to the ward.", pid)
	default:
		en = fmt.Sprintf("The status of patient ID %s has been updated.", pid)
	}

	return announce.Event{
		Subject: pid,
		Lines: []job.SpeechLine{
			{Text: th, Lang: "th"},
			{Text: en, Lang: "en"},
		},
	}
}

func postponedEvent(pid string) announce.Event {
	pidTH := speakPIDThai(pid)
	pidEN := speakPIDEnglish(pid)

	th := fmt.Sprintf(
		"เรียนญาติผู้ป่วยรหัส %s วันนี้มีความจำเป็นต้องปรับเวลาเข้าห้องผ่าตัด "+
			"กรุณามาพบเจ้าหน้าที่ที่หน้าห้องผ่าตัดเพื่อชี้แจงรายละเอียดและเวลานัดหมายใหม่ ขอบคุณค่ะ",
		pidTH,
	)
	en := fmt.Sprintf(
		"Attention, family of patient ID %s. "+
			"Please come to the operating room front desk to discuss a schedule change. Thank you.",
		pidEN,
	)

	return announce.Event{
		Subject: pid,
		Lines: []job.SpeechLine{
			{Text: th, Lang: "th"},
			{Text: en, Lang: "en"},
		},
		Repeat: postponedRepeat,
		Gap:    postponedGap,
	}
}

func publicEvent() announce.Event {
	return announce.Event{
		Subject: publicSubject,
		Lines: []job.SpeechLine{
			{Text: publicAnnouncementTH, Lang: "th"},
			{Text: publicAnnouncementEN, Lang: "en"},
		},
	}
}

// cronParser accepts standard 5-field cron and descriptors like
// "@every 20m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// runPublicAnnouncer fires the waiting-area announcement on every tick
// of the configured cron schedule. Schedule boundaries track the wall
// clock, so "*/20 * * * *" speaks at :00, :20, and :40.
func (s *Server) runPublicAnnouncer(ctx context.Context) error {
	sched, err := cronParser.Parse(s.announceSpec)
	if err != nil {
		return fmt.Errorf("surgibot: parse announce schedule %q: %w", s.announceSpec, err)
	}

	for {
		now := s.clock()
		timer := time.NewTimer(sched.Next(now).Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		s.announceEvent(ctx, publicEvent())
	}
}
