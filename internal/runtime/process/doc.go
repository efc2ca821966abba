// Package process provides a launcher that runs workers as local processes.
//
// Workers are placed in their own process group so that termination signals
// reach every member of the child's tree. Full group termination is only
// guaranteed on Linux, where the kernel's job-control semantics deliver
// signals to every group member. On Windows the launcher offers best-effort
// semantics: signals reach the direct child only, and grandchildren may
// remain running and must be cleaned up by the caller.
package process
