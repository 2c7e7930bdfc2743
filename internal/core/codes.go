// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package core

import "strconv"

// Code is a command's 16-bit discriminant. The set is closed: any value
// not listed here yields RetUnknownCommand.
type Code uint16

const (
	CodeDataBufPut Code = iota + 1
	CodeIfLockSession
	CodeIfUnlockSession
	CodeLogIf
	CodePhyIf
	CodeIfMAC
	CodeIPRoute
	CodeIPv4Reset
	CodeIPv6Reset
	CodeIPv4Conntrack
	CodeIPv6Conntrack
	CodeIPv4SetTimeout
	CodeIPv6SetTimeout
	CodeL2BD
	CodeL2StaticEnt
	CodeL2FlushAll
	CodeL2FlushLearned
	CodeL2FlushStatic
	CodeFPTable
	CodeFPRule
	CodeFWFeature
	CodeFWFeatureElement
	CodeMirror
	CodeQoSQueue
	CodeQoSScheduler
	CodeQoSShaper
	CodeQoSPolicer
	CodeQoSPolicerFlow
	CodeQoSPolicerWRED
	CodeQoSPolicerSHP
	CodeSPD
	CodeOwnershipLock
	CodeOwnershipUnlock
)

// Action is the sub-operation carried in a CMD payload's first byte for
// every family that supports CRUD-style dispatch.
type Action uint8

const (
	ActionRegister Action = iota
	ActionUpdate
	ActionDeregister
	ActionQuery
	ActionQueryCont
	ActionUseRule
	ActionUnuseRule
)

// RetCode is the 16-bit protocol-level return code written into the
// reply's reserved region.
type RetCode uint16

const (
	RetOK RetCode = iota
	RetUnknownCommand
	RetUnknownAction
	RetWrongCommandParam
	RetInternalFailure

	RetMirrorNotFound
	RetL2BDNotFound
	RetQoSQueueNotFound
	RetQoSQueueSumOfLengthsExceeded
	RetFWFeatureNotFound
	RetFWFeatureNotAvailable
	RetOwnershipNotAuthorized
	RetOwnershipAlreadyLocked
	RetOwnershipNotOwner
	RetOwnershipNotEnabled
	RetIfEntryNotFound
	RetIfEntryAlreadyRegistered
	RetIfWrongSessionID
	RetIfResourceAlreadyLocked
	RetL2StaticEntAlreadyRegistered
	RetL2StaticEntNotFound
	RetIfMACAlreadyRegistered
	RetIfMACNotFound
	RetFPRuleNotFound
	RetQoSSchedulerNotFound
	RetQoSShaperNotFound
	RetQoSPolicerFlowTableFull
	RetQoSPolicerFlowNotFound
	RetRouteEntryNotFound
	RetConntrackNotFound
	RetConntrackAlreadyRegistered
	RetSPDEntryNotFound
)

func codeLabel(c Code) string { return strconv.Itoa(int(c)) }
func retLabel(r RetCode) string { return strconv.Itoa(int(r)) }
