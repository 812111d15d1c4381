// Package process runs and stops one external command at a time.
//
// The manager starts the command in its own process group, captures its
// output, and stops it with SIGTERM followed by SIGKILL once the graceful
// timeout runs out. It never restarts a command by itself: the process
// device built on it reports the exit, and the supervisor decides.
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:            "logger",
//	    Binary:          "/usr/bin/logger",
//	    Args:            []string{"-s", "hello"},
//	    GracefulTimeout: 2 * time.Second,
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop(context.Background())
//
//	<-mgr.Done()
package process
