// Package s3 provides an S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket", "graphs/prod/")
//
//	db := nodedb.New(nodedb.WithStore(store))
//
// # Features
//
//   - Range reads for blobs opened with Open
//   - Single-request puts with CRC32C for small dumps, multipart above PartSize
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
