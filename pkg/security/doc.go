/*
Package security seals service credentials at rest.

Credential blobs on disk are always AES-256-GCM ciphertext; the plaintext
CredentialSet exists only in the coordinator's memory during dispatch and in
the SyncRequest handed to a connector.
*/
package security
