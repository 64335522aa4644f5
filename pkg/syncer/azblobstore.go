package syncer

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureBlobStore implements ObjectStore on top of an Azure Blob
// Storage container. It backs the StagedObjectStore strategy when the
// workload runs on the azure backend.
type AzureBlobStore struct {
	client    *azblob.Client
	container string
}

// NewAzureBlobStore creates an object store over the given container
// in the named storage account, authenticating with the default Azure
// credential chain.
func NewAzureBlobStore(accountName, container string) (*AzureBlobStore, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}
	if container == "" {
		return nil, fmt.Errorf("staging container is required")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureBlobStore{
		client:    client,
		container: container,
	}, nil
}

// Put uploads a blob.
func (a *AzureBlobStore) Put(ctx context.Context, key string, r io.Reader) error {
	if _, err := a.client.UploadStream(ctx, a.container, key, r, nil); err != nil {
		return fmt.Errorf("failed to put blob %s/%s: %w", a.container, key, err)
	}
	return nil
}

// Get downloads a blob. The caller owns the returned reader.
func (a *AzureBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s/%s: %w", a.container, key, err)
	}
	return resp.Body, nil
}

// Delete removes a blob.
func (a *AzureBlobStore) Delete(ctx context.Context, key string) error {
	if _, err := a.client.DeleteBlob(ctx, a.container, key, nil); err != nil {
		return fmt.Errorf("failed to delete blob %s/%s: %w", a.container, key, err)
	}
	return nil
}
