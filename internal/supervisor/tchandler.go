// Package supervisor — tchandler.go
//
// Ground telecommand handler.
//
// Telecommands arrive through the OBC link; the device layer decodes them
// into a Telecommand value and the main loop hands them here between ticks.
// The return value is the ACK/NAK sent back to the ground.
//
// Guard rails:
//   - Motion commands are rejected with a warning while in autonomous mode.
//   - The autonomy switch is rejected while a motion is ongoing.
//   - Config writes are persisted immediately and echoed downlink.

package supervisor

import (
	"fmt"

	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

// TCID identifies a ground telecommand.
type TCID uint8

const (
	TCUnknown TCID = iota

	// MCB telecommands
	TCDeployX
	TCDeployV
	TCDeployA
	TCRetractX
	TCRetractV
	TCRetractA
	TCDockX
	TCDockV
	TCDockA
	TCFullRetract
	TCCancelMotion
	TCZeroReel
	TCTempLimits
	TCTorqueLimits
	TCCurrLimits
	TCIgnoreLimits
	TCUseLimits
	TCGetMCBEEPROM

	// PIB telecommands
	TCSetAuto
	TCSetManual
	TCSetSZAMin
	TCSetProfileSize
	TCSetDockAmount
	TCSetDwellTime
	TCSetProfilePeriod
	TCSetNumProfiles
	TCSetTimeTrigger
	TCUseSZATrigger
	TCUseTimeTrigger
	TCSetDockOvershoot
	TCRetryDock
	TCGetPUStatus
	TCPUPowerOn
	TCPUPowerOff
	TCManualProfile
	TCOffloadPUProfile
	TCSetPreprofileTime
	TCSetWarmupTime
	TCAutoRedockParams
	TCSetMotionTimeout
	TCGetConfig
	TCDockedProfile
	TCStartRealTimeMCB
	TCExitRealTimeMCB
	TCLoRaTxTM
	TCRAOverride
	TCRAResume
	TCSetAutoOffload
	TCSetManualOffload

	// PU telecommands
	TCLoRaTxStatus
	TCPUWarmupConfigs
	TCPUProfileConfigs
	TCPUReset
	TCPUDockedConfigs

	// general
	TCExitError
)

// TCParams carries the parameters of a telecommand; only the fields the
// command reads are meaningful.
type TCParams struct {
	DeployLen  float32
	DeployVel  float32
	DeployAcc  float32
	RetractLen float32
	RetractVel float32
	RetractAcc float32
	DockLen    float32
	DockVel    float32
	DockAcc    float32

	TempLimits   [6]float32
	TorqueLimits [2]float32
	CurrLimits   [2]float32

	SZAMinimum    float32
	ProfileSize   float32
	DockAmount    float32
	DockOvershoot float32
	DwellTime     uint16
	ProfilePeriod uint16
	NumProfiles   uint8
	TimeTrigger   uint32

	PreprofileTime    uint16
	WarmupTime        uint16
	AutoRedockOut     float32
	AutoRedockIn      float32
	NumRedock         uint8
	MotionTimeout     uint16
	DockedProfileTime uint16

	SendLoRaTM     uint8
	SendLoRaStatus uint16

	FlashT       float32
	Heater1T     float32
	Heater2T     float32
	FlashPower   uint8
	TSENPower    uint8
	ProfileRate  uint32
	DwellRate    uint32
	ProfileTSEN  uint8
	ProfileROPC  uint8
	ProfileFLASH uint8
	LoRaTM       uint8
	DockedRate   uint32
	DockedTSEN   uint8
	DockedROPC   uint8
	DockedFLASH  uint8
}

// Telecommand is one decoded ground command.
type Telecommand struct {
	ID     TCID
	Params TCParams
}

// HandleTelecommand executes one telecommand; the return value is the
// ACK/NAK for the ground.
func (s *Supervisor) HandleTelecommand(tc Telecommand) bool {
	s.log.Debug("received telecommand")
	p := &s.cfg.Profiler
	par := tc.Params

	switch tc.ID {

	// MCB telecommands -----------------------------------
	case TCDeployX:
		if s.autonomousMode {
			s.zephyrLogWarn("Switch to manual mode before commanding motion")
			break
		}
		s.deployLength = par.DeployLen
		s.setAction(flags.ActionReelOut) // ignored if wrong mode
		s.setAction(flags.ActionOverrideTSEN)
	case TCDeployV:
		p.DeployVelocity = par.DeployVel
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set deploy_velocity: %f", p.DeployVelocity))
	case TCDeployA:
		if !s.mcb.Send(link.Float32sFrame(link.MCBOutAcc, par.DeployAcc)) {
			s.zephyrLogWarn("Error sending deploy acc to MCB")
		}
	case TCRetractX:
		if s.autonomousMode {
			s.zephyrLogWarn("Switch to manual mode before commanding motion")
			break
		}
		s.retractLength = par.RetractLen
		s.setAction(flags.ActionReelIn) // ignored if wrong mode
		s.setAction(flags.ActionOverrideTSEN)
	case TCRetractV:
		p.RetractVelocity = par.RetractVel
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set retract_velocity: %f", p.RetractVelocity))
	case TCRetractA:
		if !s.mcb.Send(link.Float32sFrame(link.MCBInAcc, par.RetractAcc)) {
			s.zephyrLogWarn("Error sending retract acc to MCB")
		}
	case TCDockX:
		if s.autonomousMode {
			s.zephyrLogWarn("Switch to manual mode before commanding motion")
			break
		}
		s.dockLength = par.DockLen
		s.setAction(flags.ActionDock) // ignored if wrong mode
		s.setAction(flags.ActionOverrideTSEN)
	case TCDockV:
		p.DockVelocity = par.DockVel
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set dock_velocity: %f", p.DockVelocity))
	case TCDockA:
		if !s.mcb.Send(link.Float32sFrame(link.MCBDockAcc, par.DockAcc)) {
			s.zephyrLogWarn("Error sending dock acc to MCB")
		}
	case TCFullRetract:
		// full retract is the safety sequence's opening move; standalone it
		// is refused so the ground cannot strand the PU mid-tether
		s.zephyrLogWarn("FULLRETRACT not available as a telecommand")
		return false
	case TCCancelMotion:
		s.cancelMotion() // no matter what, attempt to send
		s.setAction(flags.ActionMotionStop)
		s.setAction(flags.ActionOverrideTSEN)
	case TCZeroReel:
		if s.motionOngoing {
			s.zephyrLogWarn("Can't zero reel, motion ongoing")
			break
		}
		s.mcb.Send(link.Ascii(link.MCBZeroReel))
	case TCTempLimits:
		if !s.mcb.Send(link.Float32sFrame(link.MCBTempLimits,
			par.TempLimits[0], par.TempLimits[1], par.TempLimits[2],
			par.TempLimits[3], par.TempLimits[4], par.TempLimits[5])) {
			s.zephyrLogWarn("Error sending temperature limits to MCB")
		}
	case TCTorqueLimits:
		if !s.mcb.Send(link.Float32sFrame(link.MCBTorqueLimits, par.TorqueLimits[0], par.TorqueLimits[1])) {
			s.zephyrLogWarn("Error sending torque limits to MCB")
		}
	case TCCurrLimits:
		if !s.mcb.Send(link.Float32sFrame(link.MCBCurrLimits, par.CurrLimits[0], par.CurrLimits[1])) {
			s.zephyrLogWarn("Error sending curr limits to MCB")
		}
	case TCIgnoreLimits:
		s.mcb.Send(link.Ascii(link.MCBIgnoreLimits))
	case TCUseLimits:
		s.mcb.Send(link.Ascii(link.MCBUseLimits))
	case TCGetMCBEEPROM:
		if s.motionOngoing {
			s.zephyrLogWarn("Motion ongoing, request MCB EEPROM later")
		} else {
			s.mcb.Send(link.Ascii(link.MCBGetEEPROM))
		}

	// PIB telecommands -----------------------------------
	case TCSetAuto:
		if !s.motionOngoing {
			s.autonomousMode = true
			s.substate = SubEntry // restart FL in auto
			s.zephyrLogFine("Set mode to auto")
		} else {
			s.zephyrLogWarn("Motion ongoing, can't update mode")
		}
	case TCSetManual:
		if !s.motionOngoing {
			s.autonomousMode = false
			s.substate = SubEntry // restart FL in manual
			s.zephyrLogFine("Set mode to manual")
		} else {
			s.zephyrLogWarn("Motion ongoing, can't update mode")
		}
	case TCSetSZAMin:
		p.SZAMinimum = par.SZAMinimum
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set sza_minimum: %f", p.SZAMinimum))
	case TCSetProfileSize:
		p.ProfileSize = par.ProfileSize
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set profile_size: %f", p.ProfileSize))
	case TCSetDockAmount:
		p.DockAmount = par.DockAmount
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set dock_amount: %f", p.DockAmount))
	case TCSetDwellTime:
		p.DwellTime = par.DwellTime
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set dwell_time: %d", p.DwellTime))
	case TCSetProfilePeriod:
		p.ProfilePeriod = par.ProfilePeriod
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set profile_period: %d", p.ProfilePeriod))
	case TCSetNumProfiles:
		p.NumProfiles = par.NumProfiles
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set num_profiles: %d", p.NumProfiles))
	case TCSetTimeTrigger:
		now := uint32(s.clock.Now().Unix())
		if now > par.TimeTrigger {
			s.zephyrLogWarn(fmt.Sprintf("Can't use time trigger in past: %d is less than %d", par.TimeTrigger, now))
			break
		}
		p.TimeTrigger = par.TimeTrigger
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set time_trigger: %d", p.TimeTrigger))
		s.profilesRemaining = p.NumProfiles
	case TCUseSZATrigger:
		p.SZATrigger = true
		s.persistConfig()
		s.zephyrLogFine("Set sza_trigger: 1")
	case TCUseTimeTrigger:
		p.SZATrigger = false
		s.persistConfig()
		s.zephyrLogFine("Set sza_trigger: 0")
	case TCSetDockOvershoot:
		p.DockOvershoot = par.DockOvershoot
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set dock_overshoot: %f", p.DockOvershoot))
	case TCRetryDock:
		if s.autonomousMode {
			s.zephyrLogWarn("Switch to manual mode before commanding motion")
			break
		}
		s.log.Info("received retry dock telecommand")
		s.setAction(flags.CommandRedock)
		s.setAction(flags.ActionOverrideTSEN)
		s.deployLength = par.DeployLen
		s.retractLength = par.RetractLen
	case TCGetPUStatus:
		if s.autonomousMode {
			s.zephyrLogWarn("PU Status TC only implemented for manual")
			break
		}
		s.log.Info("received get PU status TC")
		s.setAction(flags.ActionCheckPU)
	case TCPUPowerOn:
		s.hw.SetPUPower(true)
		s.zephyrLogFine("PU powered on")
	case TCPUPowerOff:
		s.hw.SetPUPower(false)
		s.zephyrLogFine("PU powered off")
	case TCManualProfile:
		if s.autonomousMode {
			s.zephyrLogWarn("Switch to manual mode before commanding motion")
			break
		}
		s.log.Info("received manual profile telecommand")
		p.ProfileSize = par.ProfileSize
		p.DockAmount = par.DockAmount
		p.DockOvershoot = par.DockOvershoot
		p.DwellTime = par.DwellTime
		s.persistConfig()
		s.setAction(flags.CommandManualProfile)
		s.setAction(flags.ActionOverrideTSEN)
	case TCOffloadPUProfile:
		if s.autonomousMode {
			s.zephyrLogWarn("PU Profile offload TC only implemented for manual")
			break
		}
		s.log.Info("received offload PU profile TC")
		s.setAction(flags.ActionOffloadPU)
		s.setAction(flags.ActionOverrideTSEN)
	case TCSetPreprofileTime:
		p.PreprofileTime = par.PreprofileTime
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set preprofile_time: %d", p.PreprofileTime))
	case TCSetWarmupTime:
		p.PUWarmupTime = par.WarmupTime
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set puwarmup_time: %d", p.PUWarmupTime))
	case TCAutoRedockParams:
		p.RedockOut = par.AutoRedockOut
		p.RedockIn = par.AutoRedockIn
		p.NumRedock = par.NumRedock
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("New auto redock params: %0.2f, %0.2f, %d",
			p.RedockOut, p.RedockIn, p.NumRedock))
	case TCSetMotionTimeout:
		p.MotionTimeout = par.MotionTimeout
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("Set motion_timeout: %d", p.MotionTimeout))
	case TCGetConfig:
		if s.motionOngoing {
			s.zephyrLogWarn("Motion ongoing, request config later")
		} else {
			s.sendConfigTM()
		}
	case TCDockedProfile:
		if s.autonomousMode {
			s.zephyrLogWarn("Switch to manual mode before commanding docked profile")
			break
		}
		s.log.Info("received docked profile telecommand")
		s.dockedProfileTime = par.DockedProfileTime
		s.setAction(flags.CommandDockedProfile)
		s.setAction(flags.ActionOverrideTSEN)
	case TCStartRealTimeMCB:
		if s.motionOngoing {
			s.zephyrLogWarn("Cannot start real-time MCB mode, motion ongoing")
		} else {
			p.RealTimeMCB = true
			s.persistConfig()
			s.zephyrLogFine("Started real-time MCB mode")
		}
	case TCExitRealTimeMCB:
		if s.motionOngoing {
			s.zephyrLogWarn("Cannot exit real-time MCB mode, motion ongoing")
		} else {
			p.RealTimeMCB = false
			s.persistConfig()
			s.zephyrLogFine("Exited real-time MCB mode")
		}
	case TCLoRaTxTM:
		if par.SendLoRaTM == 0 {
			p.LoRaTxTM = false
			s.persistConfig()
			s.zephyrLogFine("Turning Off LoRa Profile TMs")
		} else {
			p.LoRaTxTM = true
			s.persistConfig()
			s.zephyrLogFine("Turning On LoRa Profile TMs")
		}
	case TCRAOverride:
		p.RAOverride = true
		s.persistConfig()
		s.zephyrLogWarn("RA Override Activated")
	case TCRAResume:
		p.RAOverride = false
		s.persistConfig()
		s.zephyrLogFine("RA Override Canceled")
	case TCSetAutoOffload:
		p.PUAutoOffload = true
		s.persistConfig()
		s.zephyrLogWarn("PU data auto offload after manual profile")
	case TCSetManualOffload:
		p.PUAutoOffload = false
		s.persistConfig()
		s.zephyrLogFine("PU data manual offload after manual profile")

	// PU telecommands ------------------------------------
	case TCLoRaTxStatus:
		p.LoRaTxStatus = par.SendLoRaStatus
		s.persistConfig()
		s.pu.Send(link.LoRaStatusFrame(p.LoRaTxStatus)) // via the docking connector
		s.zephyrLogFine("Updated PU LoRa Status TX Rate")
	case TCPUWarmupConfigs:
		p.FlashTemp = par.FlashT
		p.Heater1Temp = par.Heater1T
		p.Heater2Temp = par.Heater2T
		p.FlashPower = par.FlashPower
		p.TSENPower = par.TSENPower
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("New PU warmup configs: %0.2f, %0.2f, %0.2f, %d, %d",
			p.FlashTemp, p.Heater1Temp, p.Heater2Temp, p.FlashPower, p.TSENPower))
	case TCPUProfileConfigs:
		p.ProfileRate = par.ProfileRate
		p.DwellRate = par.DwellRate
		p.ProfileTSEN = par.ProfileTSEN
		p.ProfileROPC = par.ProfileROPC
		p.ProfileFLASH = par.ProfileFLASH
		p.LoRaTxTM = par.LoRaTM != 0
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("New PU profile configs: %d, %d, %d, %d, %d, %t",
			p.ProfileRate, p.DwellRate, p.ProfileTSEN, p.ProfileROPC, p.ProfileFLASH, p.LoRaTxTM))
	case TCPUReset:
		s.pu.Send(link.Ascii(link.PUReset))
	case TCPUDockedConfigs:
		p.DockedRate = par.DockedRate
		p.DockedTSEN = par.DockedTSEN
		p.DockedROPC = par.DockedROPC
		p.DockedFLASH = par.DockedFLASH
		s.persistConfig()
		s.zephyrLogFine(fmt.Sprintf("New PU docked profile configs: %d, %d, %d, %d",
			p.DockedRate, p.DockedTSEN, p.DockedROPC, p.DockedFLASH))

	// general telecommands -------------------------------
	case TCExitError:
		s.setAction(flags.ExitErrorState)
		s.zephyrLogFine("Received exit error command")

	// error case -----------------------------------------
	default:
		s.zephyrLogWarn(fmt.Sprintf("Unknown TC ID: %d", tc.ID))
		return false
	}

	return true
}
