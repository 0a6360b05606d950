// Package supervisor — motion.go
//
// Reel motion helpers and telemetry senders shared by the mode and
// sub-machine code.
//
// A motion's life cycle: a sub-machine picks the kind and lengths, then
// startMCBMotion sends the sized command and computes the time bound;
// the MCB's command ack (routed in mcb_router.go) calls noteProfileStart,
// which flips motionOngoing — the single edge between "commanded" and
// "ongoing". MotionFinished / MotionFault / timeout clear it.

package supervisor

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rachuts/pibd/internal/config"
	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
	"github.com/rachuts/pibd/internal/sched"
	"github.com/rachuts/pibd/internal/storage"
	"github.com/rachuts/pibd/internal/telemetry"
)

// motionBound computes the worst-case motion duration: the commanded length
// at the commanded velocity, plus the configured timeout margin.
func motionBound(length, velocity float32, timeout uint16) time.Duration {
	seconds := 60*float64(length)/float64(velocity) + float64(timeout)
	return time.Duration(seconds * float64(time.Second))
}

// startMCBMotion sends the MCB command for the current motion kind, sized
// from the per-run lengths and the configured velocities. Returns false if
// the kind is unset or the link rejects the command.
func (s *Supervisor) startMCBMotion() bool {
	p := &s.cfg.Profiler
	var ok bool
	var msg string

	switch s.motion {
	case MotionReelIn:
		msg = fmt.Sprintf("Retracting %0.1f revs", s.retractLength)
		ok = s.mcb.Send(link.MotionCommand(link.MCBReelIn, s.retractLength, p.RetractVelocity))
		s.maxMotionTime = motionBound(s.retractLength, p.RetractVelocity, p.MotionTimeout)
	case MotionReelOut:
		s.puUndock()
		msg = fmt.Sprintf("Deploying %0.1f revs", s.deployLength)
		ok = s.mcb.Send(link.MotionCommand(link.MCBReelOut, s.deployLength, p.DeployVelocity))
		s.maxMotionTime = motionBound(s.deployLength, p.DeployVelocity, p.MotionTimeout)
	case MotionDock:
		msg = fmt.Sprintf("Docking %0.1f revs", s.dockLength)
		ok = s.mcb.Send(link.MotionCommand(link.MCBDock, s.dockLength, p.DockVelocity))
		s.maxMotionTime = motionBound(s.dockLength, p.DockVelocity, p.MotionTimeout)
	case MotionInNoLW:
		msg = fmt.Sprintf("Reel in (no LW) %0.1f revs", s.retractLength)
		ok = s.mcb.Send(link.MotionCommand(link.MCBInNoLW, s.retractLength, p.DockVelocity))
		s.maxMotionTime = motionBound(s.retractLength, p.DockVelocity, p.MotionTimeout)
	default:
		s.motion = MotionNone
		s.log.Error("unknown motion type to start")
		return false
	}

	s.metrics.CommandsSentTotal.WithLabelValues("mcb").Inc()
	if s.autonomousMode {
		s.log.Info(msg)
	} else {
		s.zephyrLogFine(msg)
	}
	return ok
}

// noteProfileStart runs on the MCB's motion command ack: the motion is now
// ongoing, the telemetry buffer restarts with the profile-start epoch.
func (s *Supervisor) noteProfileStart() {
	s.motionOngoing = true
	s.profileStartMono = s.clock.Monotonic()

	if s.motion == MotionDock || s.motion == MotionInNoLW {
		s.dockOngoing = true
	}

	s.motionTM.Reset(uint32(s.clock.Now().Unix()))
	s.metrics.MotionsStartedTotal.WithLabelValues(s.motion.String()).Inc()
}

// addMCBTM buffers one MCB motion TM record; in real-time mode the packet
// is downlinked immediately.
func (s *Supervisor) addMCBTM(record []byte) {
	if len(record) != link.MotionTMSize {
		s.log.Error("invalid motion TM size", zap.Int("len", len(record)))
		return
	}

	realtime := s.cfg.Profiler.RealTimeMCB
	elapsed := uint16((s.clock.Monotonic() - s.profileStartMono) / (100 * time.Millisecond))
	if !s.motionTM.Append(record, elapsed, realtime) {
		s.log.Error("motion TM buffer full, record dropped")
		return
	}

	if realtime {
		detail := fmt.Sprintf("MCB TM Packet %d", s.motionTM.NextPacketNum())
		s.sendTM(link.FlagFine, detail, s.motionTM.Take())
		s.log.Info(detail)
	}
}

// sendMCBTM downlinks the buffered motion telemetry with the given flag and
// detail and resets the TM ack for the follow-up handshake.
func (s *Supervisor) sendMCBTM(flag link.StateFlag, detail string) {
	s.tmAck = NoAck
	s.sendTM(flag, detail, s.motionTM.Take())
}

// sendTM is the single Zephyr TM emission point (metrics included).
func (s *Supervisor) sendTM(flag link.StateFlag, detail string, payload []byte) {
	s.metrics.TelemetrySentTotal.WithLabelValues(flag.String()).Inc()
	s.zephyr.TM(flag, detail, payload)
}

// cancelMotion commands the MCB to stop whatever it is doing.
func (s *Supervisor) cancelMotion() {
	s.mcb.Send(link.Ascii(link.MCBCancelMotion))
	s.metrics.CommandsSentTotal.WithLabelValues("mcb").Inc()
}

// ── Profile scheduling ───────────────────────────────────────────────────────

// profileScheduleLead is the offset of the first scheduled profile.
const profileScheduleLead = 5 * time.Second

// scheduleProfiles books num_profiles ACTION_BEGIN_PROFILE entries spaced
// profile_period apart, the first at +5 s. The time trigger resets to its
// disabled sentinel: each round needs a fresh telecommand. On insufficient
// scheduler capacity nothing is booked and false is returned.
func (s *Supervisor) scheduleProfiles() bool {
	p := &s.cfg.Profiler

	p.TimeTrigger = config.TimeTriggerDisabled
	s.persistConfig()

	n := int(p.NumProfiles)
	if s.schedulerFree() < n {
		s.zephyrLogCrit("Error scheduling profiles, scheduler failure")
		return false
	}
	period := time.Duration(p.ProfilePeriod) * time.Second
	for i := 0; i < n; i++ {
		s.schedule(flags.ActionBeginProfile, time.Duration(i)*period+profileScheduleLead)
	}

	s.zephyrLogFine(fmt.Sprintf("Scheduled profiles: %d, %0.2f, %0.2f, %0.2f, %d, %d",
		p.NumProfiles, p.ProfileSize, p.DockAmount, p.DockOvershoot, p.DwellTime, p.ProfilePeriod))
	return true
}

// schedulerFree returns the number of unused scheduler slots.
func (s *Supervisor) schedulerFree() int {
	return sched.Capacity - s.sched.Pending()
}

// ── PU profile command ───────────────────────────────────────────────────────

// puStartProfile sends the PU its profile command: descent time from the
// deploy geometry plus the preprofile lead, ascent from retract plus dock
// geometry with the motion timeout as dock-delay margin. Increments and
// persists the profile id and opens the ledger entry.
func (s *Supervisor) puStartProfile(trigger string) {
	p := &s.cfg.Profiler

	tDown := int32(60*s.deployLength/p.DeployVelocity) + int32(p.PreprofileTime)
	tUp := int32(60*(s.retractLength/p.RetractVelocity+s.dockLength/p.DockVelocity)) + int32(p.MotionTimeout)

	cmd := link.ProfileCommand{
		DownSeconds:  tDown,
		DwellSeconds: p.DwellTime,
		UpSeconds:    tUp,
		ProfileRate:  p.ProfileRate,
		DwellRate:    p.DwellRate,
		TSEN:         p.ProfileTSEN,
		ROPC:         p.ProfileROPC,
		FLASH:        p.ProfileFLASH,
		LoRaTM:       p.LoRaTxTM,
	}
	s.pu.Send(link.ProfileFrame(cmd))
	s.metrics.CommandsSentTotal.WithLabelValues("pu").Inc()
	s.log.Info("profile params sent to PU",
		zap.Int32("t_down", tDown),
		zap.Uint16("dwell", p.DwellTime),
		zap.Int32("t_up", tUp))

	p.ProfileID++
	s.persistConfig()
	s.metrics.ProfilesStartedTotal.Inc()

	entry := storage.ProfileEntry{
		ProfileID:     p.ProfileID,
		StartedAt:     s.clock.Now(),
		Trigger:       trigger,
		DeployLength:  s.deployLength,
		RetractLength: s.retractLength,
		DockLength:    s.dockLength,
	}
	s.currentProfile = &entry
	s.appendLedger()
}

// noteProfileComplete closes the open ledger entry.
func (s *Supervisor) noteProfileComplete(redocks uint8) {
	s.metrics.ProfilesCompletedTotal.Inc()
	if s.currentProfile == nil {
		return
	}
	s.currentProfile.Completed = true
	s.currentProfile.RedockCount = redocks
	s.appendLedger()
	s.currentProfile = nil
}

// appendLedger writes the in-flight ledger entry; failures are logged only.
func (s *Supervisor) appendLedger() {
	if s.store == nil || s.currentProfile == nil {
		return
	}
	if err := s.store.AppendProfile(*s.currentProfile); err != nil {
		s.log.Error("profile ledger write failed", zap.Error(err))
	}
}

// ── PU record telemetry ──────────────────────────────────────────────────────

// sendTSENTM downlinks the buffered TSEN record with a status-detail string.
func (s *Supervisor) sendTSENTM() {
	detail := fmt.Sprintf("PU TSEN: %d, %0.2f, %0.2f, %0.2f, %0.2f, %d",
		s.puStatus.Time, s.puStatus.VBattery, s.puStatus.ICharge,
		s.puStatus.Therm1, s.puStatus.Therm2, s.puStatus.HeaterStat)
	s.tmAck = NoAck
	s.sendTM(link.FlagFine, detail, s.takePendingRecord())
	s.log.Info(detail)
}

// sendProfileTM downlinks one offloaded profile record.
func (s *Supervisor) sendProfileTM(packetNum uint8) {
	detail := fmt.Sprintf("PU Prof. Rec. %d.%d: %d, %0.2f, %0.2f, %0.2f, %0.2f, %d",
		s.cfg.Profiler.ProfileID, packetNum, s.puStatus.Time, s.puStatus.VBattery,
		s.puStatus.ICharge, s.puStatus.Therm1, s.puStatus.Therm2, s.puStatus.HeaterStat)
	s.tmAck = NoAck
	s.sendTM(link.FlagFine, detail, s.takePendingRecord())
	s.log.Info(detail)
}

// takePendingRecord returns and clears the last accepted PU binary record.
func (s *Supervisor) takePendingRecord() []byte {
	rec := s.pendingRecord
	s.pendingRecord = nil
	return rec
}

// sendConfigTM downlinks the full instrument configuration snapshot.
func (s *Supervisor) sendConfigTM() {
	data, err := json.Marshal(&s.cfg.Profiler)
	if err != nil {
		s.log.Error("unable to encode config snapshot", zap.Error(err))
		return
	}
	s.tmAck = NoAck
	s.sendTM(link.FlagFine, "PIB config snapshot", data)
	s.log.Info("sent config snapshot as TM")
}

// ── LoRa reception ───────────────────────────────────────────────────────────

// HandleLoRa processes one received radio packet: status strings go down as
// log lines, TM fragments aggregate until flushed.
func (s *Supervisor) HandleLoRa(pkt []byte) {
	cls, body := telemetry.Classify(pkt)
	s.metrics.FramesTotal.WithLabelValues("lora", "binary").Inc()

	switch cls {
	case telemetry.LoRaStatus:
		s.zephyrLogFine(string(body))
	case telemetry.LoRaTM:
		if flushed := s.lora.Append(body, s.clock.Monotonic()); flushed != nil {
			s.sendLoRaTM(flushed, false)
		}
	default:
		s.lora.NoteUnknown()
		s.log.Info("received unknown LoRa packet")
	}
}

// loraIdleFlush downlinks a stalled partial transfer.
func (s *Supervisor) loraIdleFlush(now time.Duration) {
	if flushed := s.lora.IdleFlush(now); flushed != nil {
		s.sendLoRaTM(flushed, true)
	}
}

// sendLoRaTM downlinks one aggregated LoRa telemetry buffer.
func (s *Supervisor) sendLoRaTM(buf []byte, last bool) {
	var detail string
	if last {
		detail = fmt.Sprintf("Last PU TM Packet %d", s.lora.NextPacketNum())
		s.lora.ResetPacketNum()
	} else {
		detail = fmt.Sprintf("PU TM Packet %d", s.lora.NextPacketNum())
	}
	s.sendTM(link.FlagFine, detail, buf)
	s.metrics.LoRaBytesTotal.Add(float64(len(buf)))
	s.log.Info(detail, zap.Int("bytes", len(buf)))
}
