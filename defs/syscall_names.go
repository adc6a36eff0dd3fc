package defs

// SyscallNames maps each SyscallNo to its ABI name. cmd/sysgen derives
// the same table from uapi's dispatch-table initializer and writes it to
// defs/syscall_names_generated.go; this hand-authored copy is what ships
// until that generated file supersedes it. Regenerate with `go generate
// ./uapi` once every handler below has a uapi.handleX counterpart.
var SyscallNames = [SYS_COUNT]string{
	SYS_NOOP:            "noop",
	SYS_REQ_MEM:         "req_mem",
	SYS_REQ_PMEM:        "req_pmem",
	SYS_REQ_FIXMEM:      "req_fixmem",
	SYS_REQ_SHAREDMEM:   "req_sharedmem",
	SYS_REF_SHAREDMEM:   "ref_sharedmem",
	SYS_FREE_MEM:        "free_mem",
	SYS_TIMEBASE:        "timebase",
	SYS_TICKS:           "ticks",
	SYS_REQ_REL_TIMER:   "req_rel_timer",
	SYS_REQ_ABS_TIMER:   "req_abs_timer",
	SYS_FREE_TIMER:      "free_timer",
	SYS_IPC_SERVER:      "ipc_server",
	SYS_IPC_REQ_PROC:    "ipc_req_proc",
	SYS_IPC_REQ_THREAD:  "ipc_req_thread",
	SYS_IPC_KICK:        "ipc_kick",
	SYS_IPC_RESP:        "ipc_resp",
	SYS_IPC_NOTIFY:      "ipc_notify",
	SYS_CREATE:          "create",
	SYS_FORK:            "fork",
	SYS_EXEC:            "exec",
	SYS_SPAWN:           "spawn",
	SYS_DETACH:          "detach",
	SYS_SIGNAL:          "signal",
	SYS_SWAP:            "swap",
	SYS_EXIT:            "exit",
	SYS_CONF:            "conf",
	SYS_CONF_GET:        "conf_get",
	SYS_POWEROFF:        "poweroff",
	SYS_SET_CAP:         "set_cap",
	SYS_IRQ_REQ:         "irq_req",
	SYS_FREE_IRQ:        "free_irq",
	SYS_SET_HANDLER:     "set_handler",
}
