/*
Package registry owns node identity and credentials.

A node is created in PROVISIONING with a freshly generated API key. The key
is 32 random bytes, hex encoded, and is returned to the operator exactly
once. Only hex(salt || BLAKE2b-256(key, keyed by salt)) is persisted.

	res, err := reg.CreateNode(ctx, types.NodeSpec{
		Name:      "fra-01",
		IPAddress: "10.0.0.10",
		TotalRAM:  32000,
		TotalCPU:  16,
		DiskType:  types.DiskTypeNVME,
	})
	// hand res.APIKey to the daemon; it cannot be recovered later

Authenticate compares digests in constant time. A lookup for an unknown
node still performs one comparison against a dummy hash, and both cases
return errdefs.ErrUnauthorized, so callers cannot probe which IDs exist.
*/
package registry
