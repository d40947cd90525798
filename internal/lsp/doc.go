// Package lsp is a Language Server Protocol client for a single server
// process launched over stdio.
//
// The package is organized around two components:
//
//   - Transport: JSON-RPC 2.0 framing with Content-Length headers. It issues
//     requests, receives notifications and answers requests the server sends
//     back (workspace/configuration, client/registerCapability).
//   - Client: owns the server process, performs the initialize handshake,
//     synchronises documents accepted by its DocumentSelector and forwards
//     server stderr and log messages to a logging.Logger.
//
// # Quick Start
//
//	c := lsp.NewClient("ansibleAnalyzer", "Ansible Analyzer",
//	    lsp.Executable{Command: java, Args: []string{"-jar", jar}},
//	    lsp.ClientOptions{
//	        DocumentSelector:     selector,
//	        ConfigurationSection: "ansibleAnalyzer",
//	        Settings:             cfg.Section,
//	    })
//	if err := c.Start(ctx); err != nil {
//	    return err
//	}
//	defer c.Stop(context.Background())
//
//	c.OpenDocument(ctx, "/path/to/site.yml", content)
//
// # Lifecycle
//
// A client moves Stopped -> Starting -> Running. Start fails, and the client
// returns to Stopped, if the process cannot be launched or the handshake
// does not complete. A server that exits on its own leaves the client
// Stopped; nothing restarts it.
package lsp
